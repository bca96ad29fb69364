// SPDX-License-Identifier: MPL-2.0

package opfs

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/opforge/opforge/internal/issue"
)

const (
	// AttachmentPrefix starts the file name of every attachment.
	AttachmentPrefix = "att_"
	// BinaryPrefix marks attachments embedded as base64.
	BinaryPrefix = "att_bin_"
	// IncludePrefix marks attachments inlined as source before the op body.
	IncludePrefix = "att_inc_"
)

const (
	// AttachmentPlain is embedded as a quoted string constant.
	AttachmentPlain AttachmentKind = iota
	// AttachmentBinary is embedded as base64 text.
	AttachmentBinary
	// AttachmentInclude is concatenated verbatim before the op body.
	AttachmentInclude
)

type (
	// AttachmentKind classifies an attachment by its file name prefix.
	AttachmentKind int

	// Attachment is a side-file owned by an op.
	Attachment struct {
		File string
		Kind AttachmentKind
	}
)

func (k AttachmentKind) String() string {
	switch k {
	case AttachmentBinary:
		return "binary"
	case AttachmentInclude:
		return "include"
	default:
		return "plain"
	}
}

// ClassifyAttachment returns the kind of the attachment file, and false
// when file is not an attachment at all.
func ClassifyAttachment(file string) (AttachmentKind, bool) {
	switch {
	case strings.HasPrefix(file, BinaryPrefix):
		return AttachmentBinary, true
	case strings.HasPrefix(file, IncludePrefix):
		return AttachmentInclude, true
	case strings.HasPrefix(file, AttachmentPrefix):
		return AttachmentPlain, true
	default:
		return AttachmentPlain, false
	}
}

// Attachments lists the op's attachments sorted by file name.
func (r *Repo) Attachments(name string) ([]Attachment, error) {
	dir, err := r.Dir(name)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, issue.WrapWithContext(err, "list attachments", name, issue.ErrIO)
	}

	var out []Attachment
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		kind, ok := ClassifyAttachment(e.Name())
		if !ok {
			continue
		}
		out = append(out, Attachment{File: e.Name(), Kind: kind})
	}
	slices.SortFunc(out, func(a, b Attachment) int { return strings.Compare(a.File, b.File) })
	return out, nil
}

// ReadAttachment returns the contents of one attachment file.
func (r *Repo) ReadAttachment(name, file string) ([]byte, error) {
	p, err := r.attachmentPath(name, file)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, issue.WrapWithContext(err, "read attachment", name+"/"+file, issue.ErrIO)
	}
	return data, nil
}

// WriteAttachment replaces one attachment file.
func (r *Repo) WriteAttachment(name, file string, data []byte) error {
	p, err := r.attachmentPath(name, file)
	if err != nil {
		return err
	}
	return writeFileAtomic(p, data)
}

func (r *Repo) attachmentPath(name, file string) (string, error) {
	if _, ok := ClassifyAttachment(file); !ok || file != filepath.Base(file) {
		return "", fmt.Errorf("%w: not an attachment file: %q", issue.ErrValidation, file)
	}
	dir, err := r.Dir(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, file), nil
}
