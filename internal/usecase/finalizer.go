package usecase

import (
	"context"

	"murmur/internal/ports"
)

// AdvisoryClipboardFallback is shown when text was copied instead of pasted.
const AdvisoryClipboardFallback = "Copied to clipboard. Enable Accessibility to auto-paste."

const (
	methodPaste     = "paste"
	methodClipboard = "clipboard"
)

type delivery struct {
	method   string
	advisory string
}

type textFinalizer struct {
	inserter    ports.TextInserter
	clipboard   ports.Clipboard
	permissions ports.Permissions
}

func newTextFinalizer(inserter ports.TextInserter, clipboard ports.Clipboard, permissions ports.Permissions) textFinalizer {
	return textFinalizer{inserter: inserter, clipboard: clipboard, permissions: permissions}
}

// Deliver pastes into the focused app when allowed, else copies to the clipboard.
func (f textFinalizer) Deliver(ctx context.Context, text string, clipboardOnly bool) (delivery, error) {
	if !clipboardOnly && f.inserter != nil && f.permissions != nil && f.permissions.HasAccessibilityAccess() {
		if err := f.inserter.InsertText(ctx, text); err != nil {
			return delivery{}, err
		}
		return delivery{method: methodPaste}, nil
	}

	if err := f.clipboard.SetText(ctx, text); err != nil {
		return delivery{}, err
	}
	result := delivery{method: methodClipboard}
	if !clipboardOnly {
		result.advisory = AdvisoryClipboardFallback
	}
	return result, nil
}
