package model

import "errors"

// ErrTaskNotFound is returned for ids the caller cannot see, whether the task
// never existed, was removed, or belongs to another user.
var ErrTaskNotFound = errors.New("task not found")
