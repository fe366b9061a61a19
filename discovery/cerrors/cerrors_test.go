// (c) Copyright 2024 Hewlett Packard Enterprise Development LP

package cerrors

import (
	"errors"
	"testing"
)

func TestNewDiscoveryError(t *testing.T) {
	var err *DiscoveryError
	errorMessage := "this is a simple test error message"
	errorTemplate := `Invalid DiscoveryError, received %v:"%v", expected %v:"%v"`

	err = NewDiscoveryError(SessionBusy, errorMessage)
	if (err.Code != SessionBusy) || (err.Text != errorMessage) {
		t.Errorf(errorTemplate, err.Code, err.Text, SessionBusy, errorMessage)
	}

	err = NewDiscoveryError(SessionBusy)
	if (err.Code != SessionBusy) || (err.Text != err.Code.String()) {
		t.Errorf(errorTemplate, err.Code, err.Text, SessionBusy, err.Code.String())
	}

	err = NewDiscoveryError(errorMessage)
	if (err.Code != Unknown) || (err.Text != errorMessage) {
		t.Errorf(errorTemplate, err.Code, err.Text, Unknown, errorMessage)
	}

	err = NewDiscoveryError(errors.New(errorMessage))
	if (err.Code != Unknown) || (err.Text != errorMessage) {
		t.Errorf(errorTemplate, err.Code, err.Text, Unknown, errorMessage)
	}

	err = NewDiscoveryError(Overflow, errors.New(errorMessage))
	if (err.Code != Overflow) || (err.Text != errorMessage) {
		t.Errorf(errorTemplate, err.Code, err.Text, Overflow, errorMessage)
	}

	err = NewDiscoveryError()
	if (err.Code != Internal) || (err.Text != errorMessageInvalidInputParameters) {
		t.Errorf(errorTemplate, err.Code, err.Text, Internal, errorMessageInvalidInputParameters)
	}
}

func TestDiscoveryErrorNilReceiver(t *testing.T) {
	var err *DiscoveryError
	if err.ErrorCode() != OK {
		t.Errorf("expected nil *DiscoveryError to report OK, got %v", err.ErrorCode())
	}
	if err.ErrorText() != "" {
		t.Errorf("expected nil *DiscoveryError to report empty text, got %q", err.ErrorText())
	}
}
