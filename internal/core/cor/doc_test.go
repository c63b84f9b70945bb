// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cor_test

import (
	"go/ast"
	"go/parser"
	"go/token"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The constructors and fluent builders are what commands are written
// against, so they keep their doc comments.
func TestBuildersAreDocumented(t *testing.T) {
	want := map[string][]string{
		"base_chain.go":   {"NewBaseChain", "ContinueOnFailure", "AddCommand", "Execute"},
		"base_command.go": {"NewBaseCommand", "GetName", "GetInputParam", "GetOutputParam"},
	}
	for file, names := range want {
		f, err := parser.ParseFile(token.NewFileSet(), file, nil, parser.ParseComments)
		require.NoError(t, err)

		documented := map[string]bool{}
		for _, decl := range f.Decls {
			if fn, ok := decl.(*ast.FuncDecl); ok {
				documented[fn.Name.Name] = fn.Doc != nil && fn.Doc.Text() != ""
			}
		}
		for _, name := range names {
			assert.True(t, documented[name], "%s: %s has no doc comment", file, name)
		}
	}
}
