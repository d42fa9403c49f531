// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"fmt"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/encoding/gocode/gocodec"
	"golang.org/x/exp/constraints"
)

// Validate performs a validation of the provided configuration value, returning
// a list of invalid paths and a CUE errors.Error explaining the issues found if
// the configuration is invalid according to the provided schema.
func Validate(schema string, cfg any) (paths [][]string, err error) {
	ctx := cuecontext.New()

	v := ctx.CompileString(schema)
	codec := gocodec.New(ctx, nil)

	w, err := codec.Decode(cfg)
	if err != nil {
		return nil, err
	}

	u := v.Unify(w)
	err = u.Validate(cue.Concrete(true), cue.Final())
	errs := cerrors.Errors(err)
	if len(errs) != 0 {
		paths = make([][]string, 0, len(errs))
		err = cerrors.Append(
			cerrors.Promote(err, ""),
			cerrors.Promote(fmt.Errorf("%s", u), "not concrete"),
		)
	}
	for _, err := range errs {
		p := cerrors.Path(err)
		if p != nil {
			paths = append(paths, p)
		}
	}

	return unique(paths), err
}

// unique returns paths lexically sorted in ascending order and with repeated
// and nil elements omitted.
func unique(paths [][]string) [][]string {
	paths = slices.DeleteFunc(paths, func(p []string) bool { return p == nil })
	slices.SortFunc(paths, compare[string])
	return slices.CompactFunc(paths, func(a, b []string) bool {
		return compare(a, b) == 0
	})
}

func compare[T constraints.Ordered](a, b []T) int {
	for i := 0; i < min(len(a), len(b)); i++ {
		switch e1, e2 := a[i], b[i]; {
		case e1 < e2:
			return -1
		case e1 > e2:
			return +1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return +1
	}
	return 0
}
