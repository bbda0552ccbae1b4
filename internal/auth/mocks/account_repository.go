// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GymKeeper Contributors

// Package mocks provides testify mocks for auth interfaces.
package mocks

import (
	"context"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/gymkeeper/gymkeeper/internal/auth"
)

// TestingT is the subset of testing.T the constructors need.
type TestingT interface {
	mock.TestingT
	Cleanup(func())
}

// MockAccountRepository is a mock auth.AccountRepository.
type MockAccountRepository struct {
	mock.Mock
}

var _ auth.AccountRepository = (*MockAccountRepository)(nil)

// NewMockAccountRepository creates a mock that asserts its expectations on cleanup.
func NewMockAccountRepository(t TestingT) *MockAccountRepository {
	m := &MockAccountRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockAccountRepository) Create(ctx context.Context, account *auth.Account, profile *auth.Profile) error {
	return m.Called(ctx, account, profile).Error(0)
}

func (m *MockAccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	ret := m.Called(ctx, id)
	return accountAt(ret, 0), ret.Error(1)
}

func (m *MockAccountRepository) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	ret := m.Called(ctx, email)
	return accountAt(ret, 0), ret.Error(1)
}

func (m *MockAccountRepository) GetProfile(ctx context.Context, accountID ulid.ULID) (*auth.Profile, error) {
	ret := m.Called(ctx, accountID)
	p, _ := ret.Get(0).(*auth.Profile)
	return p, ret.Error(1)
}

func (m *MockAccountRepository) ListActive(ctx context.Context) ([]*auth.Account, error) {
	ret := m.Called(ctx)
	list, _ := ret.Get(0).([]*auth.Account)
	return list, ret.Error(1)
}

func (m *MockAccountRepository) Update(ctx context.Context, account *auth.Account) error {
	return m.Called(ctx, account).Error(0)
}

func (m *MockAccountRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error {
	return m.Called(ctx, id, passwordHash).Error(0)
}

func (m *MockAccountRepository) SetStatus(ctx context.Context, id ulid.ULID, status auth.Status) error {
	return m.Called(ctx, id, status).Error(0)
}

func accountAt(args mock.Arguments, i int) *auth.Account {
	a, _ := args.Get(i).(*auth.Account)
	return a
}
