package command

import "strings"

type entryKind int

const (
	// kindSuffix marks attach to the preceding word without a space
	// (sentence punctuation and closing brackets).
	kindSuffix entryKind = iota
	// kindPrefix marks attach to the following word (opening brackets).
	kindPrefix
	// kindAction phrases become editing actions.
	kindAction
	// kindFormat phrases become actions and also reshape the next word.
	kindFormat
	// kindLiteral phrases expand to replacement text (custom phrases).
	kindLiteral
)

type entry struct {
	kind   entryKind
	text   string
	action Action
}

// defaultGrammar is the built-in phrase table. Keys are lowercase; matching
// is longest-phrase-first so multi-word phrases win over their prefixes.
func defaultGrammar() map[string]entry {
	return map[string]entry{
		// Layout
		"new line":      {kind: kindAction, action: ActionNewline},
		"new paragraph": {kind: kindAction, action: ActionNewParagraph},

		// Punctuation
		"period":            {kind: kindSuffix, text: "."},
		"full stop":         {kind: kindSuffix, text: "."},
		"comma":             {kind: kindSuffix, text: ","},
		"question mark":     {kind: kindSuffix, text: "?"},
		"exclamation mark":  {kind: kindSuffix, text: "!"},
		"exclamation point": {kind: kindSuffix, text: "!"},
		"semicolon":         {kind: kindSuffix, text: ";"},
		"colon":             {kind: kindSuffix, text: ":"},
		"dash":              {kind: kindLiteral, text: "-"},
		"hyphen":            {kind: kindLiteral, text: "-"},
		"underscore":        {kind: kindLiteral, text: "_"},
		"quote":             {kind: kindLiteral, text: `"`},
		"single quote":      {kind: kindLiteral, text: "'"},
		"open parenthesis":  {kind: kindPrefix, text: "("},
		"close parenthesis": {kind: kindSuffix, text: ")"},
		"open bracket":      {kind: kindPrefix, text: "["},
		"close bracket":     {kind: kindSuffix, text: "]"},
		"open brace":        {kind: kindPrefix, text: "{"},
		"close brace":       {kind: kindSuffix, text: "}"},

		// Editing actions
		"delete that":      {kind: kindAction, action: ActionDeleteLast},
		"scratch that":     {kind: kindAction, action: ActionDeleteLast},
		"undo":             {kind: kindAction, action: ActionUndo},
		"redo":             {kind: kindAction, action: ActionRedo},
		"select all":       {kind: kindAction, action: ActionSelectAll},
		"select line":      {kind: kindAction, action: ActionSelectLine},
		"select word":      {kind: kindAction, action: ActionSelectWord},
		"select paragraph": {kind: kindAction, action: ActionSelectParagraph},
		"cut":              {kind: kindAction, action: ActionCut},
		"copy":             {kind: kindAction, action: ActionCopy},
		"paste":            {kind: kindAction, action: ActionPaste},

		// Next-word formatting
		"capitalize":      {kind: kindFormat, action: ActionCapitalizeNext},
		"capitalize next": {kind: kindFormat, action: ActionCapitalizeNext},
		"uppercase":       {kind: kindFormat, action: ActionUppercaseNext},
		"all caps":        {kind: kindFormat, action: ActionUppercaseNext},
		"lowercase":       {kind: kindFormat, action: ActionLowercaseNext},
	}
}

// buildGrammar merges custom phrases over the built-in table and returns the
// table plus the longest phrase length in words.
func buildGrammar(custom map[string]string) (map[string]entry, int) {
	grammar := defaultGrammar()
	for phrase, replacement := range custom {
		phrase = strings.ToLower(strings.TrimSpace(phrase))
		if phrase == "" || replacement == "" {
			continue
		}
		grammar[phrase] = entry{kind: kindLiteral, text: replacement}
	}

	maxWords := 1
	for phrase := range grammar {
		if n := len(strings.Fields(phrase)); n > maxWords {
			maxWords = n
		}
	}
	return grammar, maxWords
}
