package validator

import "regexp"

type patternCategory struct {
	description string
	patterns    []*regexp.Regexp
}

func mustCompileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile(`(?i)`+e))
	}
	return out
}

var patternCategories = []patternCategory{
	{
		description: "code execution primitive",
		patterns:    mustCompileAll(`\bexec\s*\(`, `\beval\s*\(`, `\bcompile\s*\(`),
	},
	{
		description: "dynamic import",
		patterns:    mustCompileAll(`__import__\s*\(`, `\bimportlib\.`),
	},
	{
		description: "dunder attribute traversal",
		patterns:    mustCompileAll(`__(class|bases|subclasses|globals|builtins|mro|code|reduce)__`),
	},
	{
		description: "OS command execution",
		patterns:    mustCompileAll(`\bos\.system`, `\bos\.popen`, `\bos\.exec`, `\bos\.spawn`, `\bsubprocess\.`),
	},
	{
		description: "raw network access",
		patterns:    mustCompileAll(`\bsocket\.`, `\brequests\.`, `\burllib\.request`),
	},
	{
		description: "raw file access",
		patterns:    mustCompileAll(`\bopen\s*\(`, `\bfile\s*\(`),
	},
	{
		description: "sensitive path or directory traversal",
		patterns:    mustCompileAll(`\.\./`, `/etc/`, `/proc/`, `/sys/`, `/dev/`),
	},
}

// PatternChecker matches the raw text against known-dangerous idioms. Each
// category reports at most once.
type PatternChecker struct{}

func (PatternChecker) Name() string { return "patterns" }

func (PatternChecker) Check(src *Source) (errs, warnings []string) {
	for _, cat := range patternCategories {
		for _, re := range cat.patterns {
			if re.MatchString(src.Code) {
				errs = append(errs, "Dangerous pattern detected: "+cat.description)
				break
			}
		}
	}
	return errs, nil
}
