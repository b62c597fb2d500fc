// Package osdetect recognizes the operating system on install media and
// classifies disk images.
package osdetect

import (
	"bufio"
	"context"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/kdomanski/iso9660"
	"gitlab.com/tozd/go/errors"
)

// OS identifies an operating system.
type OS struct {
	// ID is a short name such as "fedora", "ubuntu" or "win".
	ID string `json:"id" yaml:"id"`

	// +optional
	Version string `json:"version,omitempty" yaml:"version,omitempty"`

	// Family is "linux" or "windows".
	Family string `json:"family" yaml:"family"`
}

// Result is what Detect learned about a medium.
type Result struct {
	Path   string `json:"path" yaml:"path"`
	Format Format `json:"format" yaml:"format"`

	// Label is the volume label of an ISO image.
	// +optional
	Label string `json:"label,omitempty" yaml:"label,omitempty"`

	// OS is nil when the medium holds no recognizable installer.
	// +optional
	OS *OS `json:"os,omitempty" yaml:"os,omitempty"`
}

// Detect classifies the file at path and, for ISO images, identifies the
// operating system from the volume label and root layout. ctx is checked
// between steps.
func Detect(ctx context.Context, path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, errors.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	format, err := DetectFormat(f)
	if err != nil {
		return Result{}, err
	}
	res := Result{Path: path, Format: format}
	if format != FormatISO {
		return res, nil
	}

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	m, err := inspectISO(f)
	if err != nil {
		return Result{}, err
	}
	res.Label = m.label
	res.OS = identify(m)
	return res, nil
}

// media is what the identification rules look at.
type media struct {
	label string

	// names holds the lower-cased entries of the root directory.
	names map[string]bool

	// treeinfo is the content of /.treeinfo (Red Hat family installers).
	treeinfo string

	// diskinfo is the content of /.disk/info (Debian family installers).
	diskinfo string
}

func inspectISO(r io.ReaderAt) (media, error) {
	img, err := iso9660.OpenImage(r)
	if err != nil {
		return media{}, errors.Errorf("failed to open ISO image: %w", err)
	}
	label, err := img.Label()
	if err != nil {
		return media{}, errors.Errorf("failed to read volume label: %w", err)
	}
	root, err := img.RootDir()
	if err != nil {
		return media{}, errors.Errorf("failed to read root directory: %w", err)
	}
	children, err := root.GetChildren()
	if err != nil {
		return media{}, errors.Errorf("failed to list root directory: %w", err)
	}

	m := media{label: strings.TrimSpace(label), names: make(map[string]bool, len(children))}
	for _, child := range children {
		name := strings.ToLower(child.Name())
		m.names[name] = true
		switch {
		case name == ".treeinfo" && !child.IsDir():
			m.treeinfo = readSmall(child)
		case name == ".disk" && child.IsDir():
			entries, err := child.GetChildren()
			if err != nil {
				continue
			}
			for _, e := range entries {
				if strings.ToLower(e.Name()) == "info" && !e.IsDir() {
					m.diskinfo = readSmall(e)
				}
			}
		}
	}
	return m, nil
}

// readSmall reads the head of an ISO file. Errors yield an empty string;
// the layout rules still apply without it.
func readSmall(f *iso9660.File) string {
	b, err := io.ReadAll(io.LimitReader(f.Reader(), 16<<10))
	if err != nil {
		return ""
	}
	return string(b)
}

type labelRule struct {
	pattern *regexp.Regexp
	id      string
	rolling bool

	// major keeps only the first number; the rest of the label counts
	// respins, not releases.
	major bool
}

var labelRules = []labelRule{
	{pattern: regexp.MustCompile(`(?i)^fedora`), id: "fedora", major: true},
	{pattern: regexp.MustCompile(`(?i)^ubuntu`), id: "ubuntu"},
	{pattern: regexp.MustCompile(`(?i)^debian`), id: "debian"},
	{pattern: regexp.MustCompile(`(?i)^centos`), id: "centos", major: true},
	{pattern: regexp.MustCompile(`(?i)^rhel`), id: "rhel"},
	{pattern: regexp.MustCompile(`(?i)^rocky`), id: "rocky"},
	{pattern: regexp.MustCompile(`(?i)^alma`), id: "almalinux"},
	{pattern: regexp.MustCompile(`(?i)^opensuse`), id: "opensuse"},
	{pattern: regexp.MustCompile(`(?i)^alpine`), id: "alpine"},
	{pattern: regexp.MustCompile(`(?i)^arch`), id: "archlinux", rolling: true},
	{pattern: regexp.MustCompile(`(?i)(_x64fre|^ccc?oma_|^ssss?_)`), id: "win"},
}

// familyNames maps the family line of .treeinfo to an ID.
var familyNames = []struct {
	prefix string
	id     string
}{
	{"red hat enterprise linux", "rhel"},
	{"centos", "centos"},
	{"fedora", "fedora"},
	{"rocky", "rocky"},
	{"almalinux", "almalinux"},
}

var versionPattern = regexp.MustCompile(`\d+(\.\d+)*`)

// identify applies the rules from most to least specific: installer
// metadata files, then the volume label, then the root layout.
func identify(m media) *OS {
	if m.treeinfo != "" {
		family, version := parseTreeinfo(m.treeinfo)
		for _, f := range familyNames {
			if strings.HasPrefix(strings.ToLower(family), f.prefix) {
				return &OS{ID: f.id, Version: version, Family: "linux"}
			}
		}
	}

	words := strings.FieldsFunc(m.diskinfo, func(r rune) bool { return r == ' ' || r == '-' })
	if len(words) > 0 {
		word := strings.ToLower(words[0])
		if word == "ubuntu" || word == "debian" {
			return &OS{ID: word, Version: versionPattern.FindString(m.diskinfo), Family: "linux"}
		}
	}

	for _, rule := range labelRules {
		if !rule.pattern.MatchString(m.label) {
			continue
		}
		found := &OS{ID: rule.id, Family: "linux"}
		switch {
		case rule.id == "win":
			found.Family = "windows"
		case rule.rolling:
		case rule.major:
			found.Version, _, _ = strings.Cut(labelVersion(m.label), ".")
		default:
			found.Version = labelVersion(m.label)
		}
		return found
	}

	switch {
	case m.names["sources"] && m.names["bootmgr"]:
		return &OS{ID: "win", Family: "windows"}
	case m.names["casper"]:
		return &OS{ID: "ubuntu", Family: "linux"}
	}
	return nil
}

// labelVersion takes the first number run of a label and joins dash
// separated parts, so "RHEL-9-2-0-BaseOS" yields "9.2.0".
func labelVersion(label string) string {
	var parts []string
	for _, field := range strings.FieldsFunc(label, func(r rune) bool { return r == '-' || r == '_' || r == ' ' }) {
		if v := versionPattern.FindString(field); v != "" && v == field {
			parts = append(parts, v)
			continue
		}
		if len(parts) > 0 {
			break
		}
	}
	return strings.Join(parts, ".")
}

// parseTreeinfo reads family and version from the [general] or [release]
// section of a .treeinfo file.
func parseTreeinfo(content string) (family, version string) {
	section := ""
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.Trim(line, "[]")
			continue
		}
		if section != "general" && section != "release" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		switch {
		case (key == "family" || key == "name") && family == "":
			family = value
		case key == "version" && version == "":
			version = value
		}
	}
	return family, version
}
