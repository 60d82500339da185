package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyContent     = errors.New("message content is empty")
	ErrContentTooLong   = fmt.Errorf("message content exceeds %d characters", MaxContentLen)
	ErrUnchangedContent = errors.New("message content is unchanged")
)

// OversizeError reports attachments rejected at selection time, naming the
// offending files so the user can drop just those.
type OversizeError struct {
	Filenames []string
}

func (e *OversizeError) Error() string {
	return fmt.Sprintf("attachments exceed the %d MiB limit: %s",
		MaxAttachmentSize/(1024*1024), strings.Join(e.Filenames, ", "))
}

// ValidateContent checks a message body before a send or edit reaches the
// network. Whitespace-only content counts as empty.
func ValidateContent(content string) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return ErrEmptyContent
	}
	if len(content) > MaxContentLen {
		return ErrContentTooLong
	}
	return nil
}

// ValidateEdit checks an edit against the message's current content.
func ValidateEdit(current, next string) error {
	if err := ValidateContent(next); err != nil {
		return err
	}
	if strings.TrimSpace(next) == strings.TrimSpace(current) {
		return ErrUnchangedContent
	}
	return nil
}
