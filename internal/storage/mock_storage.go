package storage

import (
	"io/fs"
	"os"

	"github.com/stretchr/testify/mock"
)

// MockStorage is a testify mock of Storage for conflict and service tests.
// Existence is driven through Stat: a nil error means the path exists.
type MockStorage struct {
	mock.Mock
}

// WithinRoot accepts every path, resolving it to a fixed absolute location.
func (m *MockStorage) WithinRoot() *MockStorage {
	m.On("Resolve", mock.Anything).Return("/mock-root", nil)
	return m
}

// Existing marks each path as present for one Stat call and everything else
// as missing.
func (m *MockStorage) Existing(paths ...string) *MockStorage {
	for _, p := range paths {
		m.On("Stat", p).Return(nil, nil).Once()
	}
	m.On("Stat", mock.Anything).Return(nil, fs.ErrNotExist)
	return m
}

func (m *MockStorage) RootAbs() string {
	return m.Called().String(0)
}

func (m *MockStorage) Resolve(clientPath string) (string, error) {
	args := m.Called(clientPath)
	return args.String(0), args.Error(1)
}

func (m *MockStorage) MkdirAll(clientPath string, perm fs.FileMode) error {
	return m.Called(clientPath, perm).Error(0)
}

func (m *MockStorage) Stat(clientPath string) (fs.FileInfo, error) {
	args := m.Called(clientPath)
	info, _ := args.Get(0).(fs.FileInfo)
	return info, args.Error(1)
}

func (m *MockStorage) RemoveAll(clientPath string) error {
	return m.Called(clientPath).Error(0)
}

func (m *MockStorage) Rename(oldPath string, newPath string) error {
	return m.Called(oldPath, newPath).Error(0)
}

func (m *MockStorage) OpenForWrite(clientPath string) (*os.File, error) {
	args := m.Called(clientPath)
	file, _ := args.Get(0).(*os.File)
	return file, args.Error(1)
}
