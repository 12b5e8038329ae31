// Package catalog describes the scripts the backend can run and offers
// lookups and glob filtering over a fetched listing.
package catalog

import (
	"context"
	"slices"
	"strings"

	"github.com/gobwas/glob"

	"github.com/tibame201020/opencv-custom-sub001/internal/errors"
)

// PlatformAndroid marks scripts that drive an Android device and need a
// deviceId parameter to start.
const PlatformAndroid = "android"

// DeviceParam is the params key carrying the target device serial.
const DeviceParam = "deviceId"

// Script is one runnable entry of the catalog.
type Script struct {
	Ref         string `json:"id" yaml:"id"`
	Label       string `json:"name" yaml:"name"`
	Platform    string `json:"platform,omitempty" yaml:"platform,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// DisplayName returns the label, falling back to the ref.
func (s Script) DisplayName() string {
	if s.Label != "" {
		return s.Label
	}
	return s.Ref
}

// NeedsDevice reports whether the script targets a device.
func (s Script) NeedsDevice() bool {
	return strings.EqualFold(s.Platform, PlatformAndroid)
}

// Catalog lists available scripts.
type Catalog interface {
	List(ctx context.Context) ([]Script, error)
}

// Func adapts a function to Catalog.
type Func func(ctx context.Context) ([]Script, error)

// List calls f.
func (f Func) List(ctx context.Context) ([]Script, error) {
	return f(ctx)
}

// Static is a fixed catalog.
type Static []Script

// List returns a copy of s.
func (s Static) List(context.Context) ([]Script, error) {
	return slices.Clone([]Script(s)), nil
}

// Lookup finds the script with ref.
func Lookup(scripts []Script, ref string) (Script, bool) {
	i := slices.IndexFunc(scripts, func(s Script) bool { return s.Ref == ref })
	if i < 0 {
		return Script{}, false
	}
	return scripts[i], true
}

// Filter returns the scripts whose ref or label matches pattern. Matching is
// case-insensitive. A pattern without glob metacharacters matches as a
// substring; an empty pattern matches everything.
func Filter(scripts []Script, pattern string) ([]Script, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return slices.Clone(scripts), nil
	}
	pattern = strings.ToLower(pattern)
	if !strings.ContainsAny(pattern, "*?[{") {
		pattern = "*" + pattern + "*"
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, errors.NewValidationError("invalid filter pattern").
			WithField("filter").WithValue(pattern).WithCause(err)
	}

	out := make([]Script, 0, len(scripts))
	for _, s := range scripts {
		if g.Match(strings.ToLower(s.Ref)) || g.Match(strings.ToLower(s.Label)) {
			out = append(out, s)
		}
	}
	return out, nil
}

// Sort orders scripts by display name, then ref.
func Sort(scripts []Script) {
	slices.SortStableFunc(scripts, func(a, b Script) int {
		if c := strings.Compare(strings.ToLower(a.DisplayName()), strings.ToLower(b.DisplayName())); c != 0 {
			return c
		}
		return strings.Compare(a.Ref, b.Ref)
	})
}
