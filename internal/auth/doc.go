// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GymKeeper Contributors

// Package auth provides authentication primitives for GymKeeper.
//
// # Domain Types
//
// Account is created with NewAccount, which normalizes the email and
// validates the role. Profile is validated with Profile.Validate before it
// is persisted. Repository implementations receive pre-validated values.
//
// # Services
//
// Service types coordinate domain operations:
//   - Service - registration and login
//   - AccountService - admin listing, update, deactivation and password change
//   - TokenManager - HS256 session token issue and verification
//
// Services are created with New*Service constructors that validate dependencies.
package auth
