package portal

import "fmt"

// languageSpec describes how to drive one REPL's interactive interpreter
// and how to frame a submission with sentinel markers the portal can grep
// for deterministically, independent of what the user's code itself prints.
type languageSpec struct {
	bin  string
	args []string
	// frame wraps userCode so the interpreter echoes okToken to stdout after
	// evaluating it, whatever the outcome; errToken must appear in stderr
	// when the evaluation raised.
	frame func(userCode, okToken, errToken string) string
}

var languages = map[string]languageSpec{
	"python": {
		bin:  "python3",
		args: []string{"-u", "-i", "-q"},
		frame: func(code, ok, errTok string) string {
			return fmt.Sprintf(
				"import sys as __msb_sys\n"+
					"try:\n"+
					"    exec(compile(%s, '<sandbox>', 'exec'))\n"+
					"except SystemExit:\n"+
					"    raise\n"+
					"except BaseException as __msb_exc:\n"+
					"    __msb_sys.stderr.write('%s ' + repr(__msb_exc) + '\\n')\n"+
					"    __msb_sys.stderr.flush()\n"+
					"__msb_sys.stdout.write('%s\\n')\n"+
					"__msb_sys.stdout.flush()\n",
				pyQuote(code), errTok, ok)
		},
	},
	"nodejs": {
		bin:  "node",
		args: []string{"-i"},
		frame: func(code, ok, errTok string) string {
			return fmt.Sprintf(
				"try { %s } catch (__msbErr) { console.error('%s ' + __msbErr); } "+
					"console.log('%s');\n", code, errTok, ok)
		},
	},
	"bun": {
		bin:  "bun",
		args: []string{"repl"},
		frame: func(code, ok, errTok string) string {
			return fmt.Sprintf(
				"try { %s } catch (__msbErr) { console.error('%s ' + __msbErr); } "+
					"console.log('%s');\n", code, errTok, ok)
		},
	},
}

// pyQuote renders code as a Python triple-quoted string literal so it can be
// passed to compile() regardless of embedded quotes or newlines.
func pyQuote(code string) string {
	escaped := ""
	for _, r := range code {
		if r == '\\' {
			escaped += `\\`
		} else if r == '"' {
			escaped += `\"`
		} else {
			escaped += string(r)
		}
	}
	return `"""` + escaped + `"""`
}
