//go:build windows && amd64

// Package bindings is a thin syscall layer over the parts of the Windows
// Hypervisor Platform (winhvplatform.dll and winhvemulation.dll) that a
// single-processor real-mode partition needs.
package bindings

import (
	"errors"
	"fmt"
	"syscall"
)

// HRESULT represents a Windows error/success code returned from WinHv APIs.
type HRESULT int32

const (
	S_OK      HRESULT = 0
	E_NOTIMPL HRESULT = -0x7FFFBFFF // 0x80004001
	E_FAIL    HRESULT = -0x7FFFBFFB // 0x80004005
)

func (hr HRESULT) Failed() bool    { return hr < 0 }
func (hr HRESULT) Succeeded() bool { return hr >= 0 }

// Err converts the HRESULT into a Go error, or nil on success.
func (hr HRESULT) Err() error {
	if hr.Succeeded() {
		return nil
	}
	return HRESULTError(hr)
}

// HRESULTError wraps a failing HRESULT value.
type HRESULTError HRESULT

func (e HRESULTError) Error() string {
	return fmt.Sprintf("HRESULT %#08x: %s", uint32(e), syscall.Errno(uint32(e)&0xFFFF).Error())
}

// AsHRESULT extracts an HRESULT from err.
func AsHRESULT(err error) (HRESULT, bool) {
	var hErr HRESULTError
	if errors.As(err, &hErr) {
		return HRESULT(hErr), true
	}
	return 0, false
}

func callHRESULT(proc *syscall.LazyProc, args ...uintptr) error {
	if err := proc.Find(); err != nil {
		return err
	}
	r1, _, _ := proc.Call(args...)
	return HRESULT(int32(r1)).Err()
}
