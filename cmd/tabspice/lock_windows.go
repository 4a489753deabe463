//go:build windows

package main

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows"

	"github.com/dixieflatline76/TabSpice/config"
)

var mutex windows.Handle

// acquireLock tries to acquire a single-instance lock (named mutex on Windows).
func acquireLock() (bool, error) {
	name, err := windows.UTF16PtrFromString(config.AppName + "_SingleInstanceMutex")
	if err != nil {
		return false, err
	}
	h, err := windows.CreateMutex(nil, true, name)
	if err != nil {
		if errors.Is(err, windows.ERROR_ALREADY_EXISTS) {
			if h != 0 {
				windows.CloseHandle(h)
			}
			return false, nil
		}
		return false, fmt.Errorf("failed to create mutex: %w", err)
	}
	mutex = h
	return true, nil
}

// releaseLock releases the single-instance lock.
func releaseLock() {
	if mutex == 0 {
		return
	}
	_ = windows.ReleaseMutex(mutex)
	_ = windows.CloseHandle(mutex)
	mutex = 0
}
