//go:build headless

package main

import "errors"

func copyToClipboard(text string) error {
	return errors.New("built without clipboard support (headless)")
}
