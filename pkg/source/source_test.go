package source

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Block
	}{
		{
			name:  "export then import",
			input: "#lang:A\n#export:msg\nmsg=\"hi\"\n#lang:B\n#import:msg\nprint(msg)",
			want: []Block{
				{Language: "a", Code: `msg="hi"`, Exports: []string{"msg"}, SourceLine: 1},
				{Language: "b", Code: "print(msg)", Imports: []string{"msg"}, SourceLine: 4},
			},
		},
		{
			name:  "preamble lines ignored",
			input: "title\n\n#lang:python\nprint(1)\n",
			want: []Block{
				{Language: "python", Code: "print(1)", SourceLine: 3},
			},
		},
		{
			name:  "language case and whitespace",
			input: "#lang:  PyThOn  \nx = 1",
			want: []Block{
				{Language: "python", Code: "x = 1", SourceLine: 1},
			},
		},
		{
			name:  "permissive directive lists",
			input: "#lang:js\n#import: a , b,,a\n#import:c\n#export:d,\nconsole.log(a)",
			want: []Block{
				{Language: "js", Code: "console.log(a)", Imports: []string{"a", "b", "c"}, Exports: []string{"d"}, SourceLine: 1},
			},
		},
		{
			name:  "body trimmed but inner blank lines kept",
			input: "#lang:bash\n\n\necho a\n\necho b\n\n",
			want: []Block{
				{Language: "bash", Code: "echo a\n\necho b", SourceLine: 1},
			},
		},
		{
			name:  "empty language and body dropped",
			input: "#lang:\n#lang:python\nprint(2)",
			want: []Block{
				{Language: "python", Code: "print(2)", SourceLine: 2},
			},
		},
		{
			name:  "empty body kept for validation",
			input: "#lang:python\n#lang:bash\necho x",
			want: []Block{
				{Language: "python", Code: "", SourceLine: 1},
				{Language: "bash", Code: "echo x", SourceLine: 2},
			},
		},
		{
			name:  "legacy end marker",
			input: "#lang:python\nprint(1)\n#end\nstray text\n#lang:bash\necho 2\n#end",
			want: []Block{
				{Language: "python", Code: "print(1)", SourceLine: 1},
				{Language: "bash", Code: "echo 2", SourceLine: 5},
			},
		},
		{
			name:  "indented directive is body text",
			input: "#lang:python\n  #lang:js\nprint(1)",
			want: []Block{
				{Language: "python", Code: "#lang:js\nprint(1)", SourceLine: 1},
			},
		},
		{
			name:  "crlf line endings",
			input: "#lang:python\r\n#export:x\r\nx = 1\r\n",
			want: []Block{
				{Language: "python", Code: "x = 1", Exports: []string{"x"}, SourceLine: 1},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.input)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "demo.poly")
	if err := os.WriteFile(path, []byte("#lang:python\nprint('hi')\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	blocks, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if len(blocks) != 1 || blocks[0].Language != "python" {
		t.Errorf("blocks = %+v, want one python block", blocks)
	}
}

func TestParseFile_Missing(t *testing.T) {
	_, err := ParseFile(filepath.Join(t.TempDir(), "nope.poly"))
	if !errors.Is(err, ErrMalformedSource) {
		t.Errorf("err = %v, want ErrMalformedSource", err)
	}
}

func TestValidate(t *testing.T) {
	blocks := Parse("#lang:python\n#lang:bash\n#lang:js\nconsole.log(1)\n#lang:cpp\n")
	problems := Validate(blocks)

	if len(problems) != 3 {
		t.Fatalf("len(problems) = %d, want 3: %v", len(problems), problems)
	}
	for i, wantLine := range []int{1, 2, 5} {
		if problems[i].Line != wantLine {
			t.Errorf("problems[%d].Line = %d, want %d", i, problems[i].Line, wantLine)
		}
		if problems[i].Reason != "empty block" {
			t.Errorf("problems[%d].Reason = %q, want %q", i, problems[i].Reason, "empty block")
		}
	}
}

func TestValidate_MissingLanguage(t *testing.T) {
	blocks := Parse("#lang:\nprint(1)")
	problems := Validate(blocks)
	if len(problems) != 1 || problems[0].Reason != "missing language" {
		t.Fatalf("problems = %v, want one missing language", problems)
	}
}

func TestValidate_NoBlocks(t *testing.T) {
	problems := Validate(nil)
	if len(problems) != 1 {
		t.Fatalf("len(problems) = %d, want 1", len(problems))
	}
}

func TestCheck(t *testing.T) {
	if err := Check(Parse("#lang:python\nprint(1)")); err != nil {
		t.Errorf("Check(valid) = %v, want nil", err)
	}

	err := Check(Parse("#lang:python\n#lang:bash\n"))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("Check(invalid) = %v, want ErrValidation", err)
	}
	if got := strings.Count(err.Error(), "empty block"); got != 2 {
		t.Errorf("error mentions %d empty blocks, want 2: %v", got, err)
	}
}
