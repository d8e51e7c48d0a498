// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import (
	"strings"
)

const DefaultDelimiter = "/"

var specialUseNames = map[string]SpecialUse{
	"inbox":            SpecialUseInbox,
	"sent":             SpecialUseSent,
	"sent items":       SpecialUseSent,
	"sent mail":        SpecialUseSent,
	"sent messages":    SpecialUseSent,
	"drafts":           SpecialUseDrafts,
	"draft":            SpecialUseDrafts,
	"trash":            SpecialUseTrash,
	"deleted items":    SpecialUseTrash,
	"deleted messages": SpecialUseTrash,
	"bin":              SpecialUseTrash,
	"junk":             SpecialUseJunk,
	"junk e-mail":      SpecialUseJunk,
	"junk email":       SpecialUseJunk,
	"spam":             SpecialUseJunk,
	"bulk mail":        SpecialUseJunk,
	"archive":          SpecialUseArchive,
	"archives":         SpecialUseArchive,
	"all mail":         SpecialUseArchive,
}

// SpecialUseFor maps a folder display name to its canonical role. Only the
// last path segment is considered, matching is case insensitive.
func SpecialUseFor(name string) (SpecialUse, bool) {
	segment := name
	for _, delimiter := range []string{"/", ".", "\\"} {
		if i := strings.LastIndex(segment, delimiter); i >= 0 && i < len(segment)-1 {
			segment = segment[i+1:]
		}
	}
	segment = strings.Trim(strings.ToLower(strings.TrimSpace(segment)), "[]")

	use, ok := specialUseNames[segment]
	return use, ok
}

// NormalizeFolders fills the fields a protocol left empty. Applying it twice
// gives the same result as applying it once.
func NormalizeFolders(folders []*MailFolder) []*MailFolder {
	result := make([]*MailFolder, 0, len(folders))
	for _, f := range folders {
		if f == nil {
			continue
		}

		n := *f
		if n.Delimiter == "" {
			n.Delimiter = DefaultDelimiter
		}
		if n.Path == "" {
			n.Path = n.Name
		}
		if n.Name == "" {
			n.Name = n.Path
			if i := strings.LastIndex(n.Path, n.Delimiter); i >= 0 {
				n.Name = n.Path[i+len(n.Delimiter):]
			}
		}
		if n.Flags == nil {
			n.Flags = []string{}
		}
		if len(n.SpecialUse) == 0 {
			n.SpecialUse = []SpecialUse{}
			if use, ok := SpecialUseFor(n.Name); ok {
				n.SpecialUse = append(n.SpecialUse, use)
			}
		}

		result = append(result, &n)
	}

	return result
}
