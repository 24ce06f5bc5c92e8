package static

import (
    "github.com/amirimatin/go-topics/pkg/discovery"
)

type seeds []string

func (s seeds) Seeds() []string { return append([]string(nil), s...) }

// New returns a Discovery with a fixed seed list.
func New(list ...string) discovery.Discovery { return seeds(discovery.Normalize(list)) }

// Parse reads a --seeds style flag value.
func Parse(csv string) discovery.Discovery { return New(discovery.Split(csv)...) }
