package prompt

import "regexp"

// Flags select the persona and the addenda of the system prompt.
type Flags struct {
	Code         bool
	Debug        bool
	Architecture bool
	Crunch       bool
}

type category int

const (
	categoryDebug category = iota
	categoryArchitecture
	categoryCrunch
)

type rule struct {
	category category
	patterns []*regexp.Regexp
}

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile(`(?i)`+e))
	}
	return out
}

// rules is evaluated in full for every message; categories are independent.
var rules = []rule{
	{
		category: categoryDebug,
		patterns: compileAll(
			`\b(error|exception|stack ?trace|traceback|crash(es|ed|ing)?|bug(gy)?)\b`,
			`\b(Type|Reference|Syntax|Range|Key|Index|Attribute|Value|Name|Import|Runtime|Assertion)Error\b`,
			`\b(NullPointer|IllegalArgument|IllegalState|ArrayIndexOutOfBounds|ClassCast|ConcurrentModification)Exception\b`,
			`\bModuleNotFound(Error)?\b`,
			`\bsegmentation fault\b|\bsegfault\b|\bcore dumped\b`,
			`\bpanic:|\bgoroutine \d+ \[`,
			`\bundefined is not a function\b|\bcannot read propert(y|ies) of\b|\bis not defined\b`,
			`\b(doesn'?t|does not|isn'?t|is not|not) work(ing)?\b`,
			`\bline \d+\b|\b[\w./-]+\.(js|jsx|ts|tsx|py|go|java|rb|rs|c|cc|cpp|cs|php|kt|swift):\d+\b`,
			`\bunexpected token\b|\bundefined reference\b|\bcompil(e|ation|er) (error|fail(s|ed|ure)?)\b`,
		),
	},
	{
		category: categoryArchitecture,
		patterns: compileAll(
			`\b(folder|project|directory|file|code ?base) (structure|layout|organi[sz]ation)\b`,
			`\bmicro-?services?\b|\bmonolith(ic)?\b|\bmono-?repo\b`,
			`\bREST\s+(vs\.?|versus|or)\s+GraphQL\b|\bGraphQL\s+(vs\.?|versus|or)\s+REST\b`,
			`\b(system|software|api|database|db) (design|architecture|schema)\b`,
			`\barchitect(ure|ural|ing)?\b`,
			`\b(which|what|pick|choose|choosing) (a |the )?(database|db|framework|stack)\b`,
			`\b(scalable|scalability)\b`,
			`\bscal(e|ing) (out|up|horizontally|vertically)\b`,
			`\bscal(e|ing) (the |our |my |this )?(app|service|backend|api|system|database|db|server|cluster)s?\b`,
			`\bdesign patterns?\b|\bseparation of concerns\b|\bevent[- ]driven\b`,
		),
	},
	{
		category: categoryCrunch,
		patterns: compileAll(
			`\brunning out of time\b|\bno time left\b|\bshort on time\b|\blast[- ]minute\b`,
			`\bdeadlines?\b|\bdue (soon|today|tonight|tomorrow)\b|\bsubmission\b`,
			`\b(hurry|asap|urgent(ly)?)\b`,
			`\b(need|want) (it|this|that|help|an? (answer|fix)) (fast|quick(ly)?|now)\b`,
			`\bquick(est)? (fix|hack|workaround)\b`,
			`\b\d+\s*(more\s+)?(minutes?|mins?|hours?|hrs?)\s+(left|remaining|to go|until)\b`,
			`\b(only|just) (have |got )?\d+\s*(more\s+)?(minutes?|mins?|hours?|hrs?)\b`,
		),
	},
}

// Classify reports which situations a user message signals. Code is never
// inferred from text.
func Classify(message string) Flags {
	var f Flags
	for _, r := range rules {
		if !matchesAny(r.patterns, message) {
			continue
		}
		switch r.category {
		case categoryDebug:
			f.Debug = true
		case categoryArchitecture:
			f.Architecture = true
		case categoryCrunch:
			f.Crunch = true
		}
	}
	return f
}

func matchesAny(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}
