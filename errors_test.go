package gofat_test

import (
	"errors"
	"testing"

	"github.com/dargueta/gofat"
	"github.com/stretchr/testify/assert"
)

func TestDriverErrorWithMessage(t *testing.T) {
	newErr := gofat.ErrBlockDeviceRequired.WithMessage("asdfqwerty")
	assert.Equal(t, "asdfqwerty", newErr.Error(), "error message is wrong")
	assert.ErrorIs(t, newErr, gofat.ErrBlockDeviceRequired)
}

func TestDriverErrorWrap(t *testing.T) {
	originalErr := errors.New("original error")
	newErr := gofat.ErrExists.Wrap(originalErr)
	expectedMessage := "file exists: original error"

	assert.EqualValues(t, expectedMessage, newErr.Error(), "error message is wrong")
	assert.ErrorIs(t, newErr, originalErr, "original error not set as parent")
	assert.ErrorIs(t, newErr, gofat.ErrExists, "gofat error not set as parent")
}
