// Package mocks provides mock implementations for testing the helix job system.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for our repository interfaces.
// The mocks are generated using go:generate directives and provide a fluent API for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	defer ctrl.Finish()
//	mockRepo := mocks.NewMockJobRepository(ctrl)
//	mockRepo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(job, nil)
package mocks

// Generate mock for JobRepository interface from internal/core package.
// This creates MockJobRepository with methods for all JobRepository interface methods:
// Create, GetByID, AcquireNext, WaitForNotification, Complete, Fail, Stats,
// ListRecentByKind, CountNonTerminalByOwner, FindInFlightByFingerprint, HasActiveGeneration
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=job_repository_mock.go github.com/Streamweaver/helix-jobs/internal/core JobRepository

// Generate mock for ReaperRepository interface from internal/core package.
// This creates MockReaperRepository with methods for all ReaperRepository interface methods:
// KillStalePendingJobs, KillStaleInProgressJobs, DeleteOldJobs
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=reaper_repository_mock.go github.com/Streamweaver/helix-jobs/internal/core ReaperRepository

// Generate mock for FingerprintCache interface from internal/core package.
// This creates MockFingerprintCache with methods for all FingerprintCache interface methods:
// SetIfAbsent, Get, Delete
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=fingerprint_cache_mock.go github.com/Streamweaver/helix-jobs/internal/core FingerprintCache
