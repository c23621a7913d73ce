// Package paste inserts recognized text into the focused application by
// setting the clipboard and synthesizing the platform paste keystroke,
// saving and restoring the prior clipboard content around the action.
package paste

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/micmonay/keybd_event"

	"voicepaste/internal/domain"
)

const defaultRestoreDelay = 100 * time.Millisecond

// Service implements ports.PasteService. The clipboard and keystroke
// functions are fields so tests can substitute fakes.
type Service struct {
	restoreDelay   time.Duration
	readClipboard  func() (string, error)
	writeClipboard func(text string) error
	sendPasteChord func() error
}

func NewClipboardPasteService(restoreDelay time.Duration) *Service {
	if restoreDelay <= 0 {
		restoreDelay = defaultRestoreDelay
	}
	return &Service{
		restoreDelay:   restoreDelay,
		readClipboard:  clipboard.ReadAll,
		writeClipboard: clipboard.WriteAll,
		sendPasteChord: sendPasteChord,
	}
}

// Paste performs the save-clipboard / set-clipboard / paste-keystroke /
// restore-clipboard sequence. Blank text is rejected deterministically
// without touching the clipboard.
func (s *Service) Paste(text string) domain.PasteResult {
	if strings.TrimSpace(text) == "" {
		return domain.PasteResult{Success: false, Reason: "empty text", ClipboardRestored: true}
	}

	oldClip, readErr := s.readClipboard()
	if readErr != nil {
		return domain.PasteResult{
			Success:           false,
			Reason:            fmt.Sprintf("clipboard read failed: %v", readErr),
			ClipboardRestored: false,
		}
	}

	if err := s.writeClipboard(text); err != nil {
		return domain.PasteResult{
			Success:           false,
			Reason:            fmt.Sprintf("clipboard write failed: %v", err),
			ClipboardRestored: s.restore(oldClip),
		}
	}

	if err := s.sendPasteChord(); err != nil {
		return domain.PasteResult{
			Success:           false,
			Reason:            fmt.Sprintf("paste keystroke failed: %v", err),
			ClipboardRestored: s.restore(oldClip),
		}
	}

	// Give the target application time to read the clipboard before the
	// old content is put back.
	time.Sleep(s.restoreDelay)
	return domain.PasteResult{
		Success:           true,
		Reason:            "ok",
		ClipboardRestored: s.restore(oldClip),
	}
}

func (s *Service) restore(oldClip string) bool {
	return s.writeClipboard(oldClip) == nil
}

// sendPasteChord synthesizes Cmd+V on macOS and Ctrl+V everywhere else.
func sendPasteChord() error {
	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		return err
	}
	kb.SetKeys(keybd_event.VK_V)
	if runtime.GOOS == "darwin" {
		kb.HasSuper(true)
	} else {
		kb.HasCTRL(true)
	}
	return kb.Launching()
}
