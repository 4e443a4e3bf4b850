// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/cadence-cli/internal/browser"
	"github.com/xkilldash9x/cadence-cli/internal/store"
)

// -- Page Driver Mocks --

// MockDriver mocks browser.Driver.
type MockDriver struct {
	mock.Mock
}

func (m *MockDriver) Navigate(ctx context.Context, url string) error {
	args := m.Called(ctx, url)
	return args.Error(0)
}

func (m *MockDriver) FindAll(ctx context.Context, selector string) ([]browser.Element, error) {
	args := m.Called(ctx, selector)
	var elements []browser.Element
	if v := args.Get(0); v != nil {
		elements = v.([]browser.Element)
	}
	return elements, args.Error(1)
}

func (m *MockDriver) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockElement mocks browser.Element.
type MockElement struct {
	mock.Mock
}

func (m *MockElement) Click(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockElement) SendKeys(ctx context.Context, text string) error {
	args := m.Called(ctx, text)
	return args.Error(0)
}

func (m *MockElement) Attribute(ctx context.Context, name string) (string, error) {
	args := m.Called(ctx, name)
	return args.String(0), args.Error(1)
}

// MockFactory mocks browser.Factory.
type MockFactory struct {
	mock.Mock
}

func (m *MockFactory) Acquire(ctx context.Context) (browser.Driver, error) {
	args := m.Called(ctx)
	var d browser.Driver
	if v := args.Get(0); v != nil {
		d = v.(browser.Driver)
	}
	return d, args.Error(1)
}

// Elements is a convenience for building FindAll return values.
func Elements(els ...browser.Element) []browser.Element {
	if els == nil {
		return []browser.Element{}
	}
	return els
}

// -- Session History Mock --

// MockRecorder mocks store.Recorder.
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) RecordSession(ctx context.Context, rec store.SessionRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockRecorder) RecentSessions(ctx context.Context, limit int) ([]store.SessionRecord, error) {
	args := m.Called(ctx, limit)
	var recs []store.SessionRecord
	if v := args.Get(0); v != nil {
		recs = v.([]store.SessionRecord)
	}
	return recs, args.Error(1)
}

func (m *MockRecorder) Close() error {
	args := m.Called()
	return args.Error(0)
}
