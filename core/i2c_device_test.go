package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want TransmissionStatus
	}{
		{nil, StatusOK},
		{&TransmissionError{Code: StatusDataNACK}, StatusDataNACK},
		{fmt.Errorf("write 0x50: %w", &TransmissionError{Code: StatusTimeout}), StatusTimeout},
		{ErrBufferOverrun, StatusDataTooLong},
		{fmt.Errorf("%w: 40 > 32", ErrBufferOverrun), StatusDataTooLong},
		{ErrNACK, StatusAddressNACK},
		{ErrNotDetected, StatusAddressNACK},
		{ErrShortRead, StatusOther},
		{errors.New("bus fault"), StatusOther},
	}
	for _, tt := range tests {
		if got := StatusOf(tt.err); got != tt.want {
			t.Errorf("StatusOf(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestTransmissionErrorIsNACK(t *testing.T) {
	err := error(&TransmissionError{Code: StatusAddressNACK})
	if !errors.Is(err, ErrNACK) {
		t.Error("TransmissionError must match ErrNACK")
	}
	if errors.Is(err, ErrShortWrite) {
		t.Error("TransmissionError must not match unrelated sentinels")
	}
}
