// Package command turns final transcripts into the literal text and editing
// actions the injector delivers. The grammar is a closed phrase table
// matched case-insensitively with longest-phrase-first priority, so
// "question mark" is never half-consumed by a shorter phrase.
package command

// Action identifies an editing operation the injector translates into an
// OS-level operation instead of typing the words.
type Action string

const (
	ActionNewline         Action = "newline"
	ActionNewParagraph    Action = "new-paragraph"
	ActionCapitalizeNext  Action = "capitalize-next"
	ActionUppercaseNext   Action = "uppercase-next"
	ActionLowercaseNext   Action = "lowercase-next"
	ActionDeleteLast      Action = "delete-last"
	ActionUndo            Action = "undo"
	ActionRedo            Action = "redo"
	ActionSelectAll       Action = "select-all"
	ActionSelectLine      Action = "select-line"
	ActionSelectWord      Action = "select-word"
	ActionSelectParagraph Action = "select-paragraph"
	ActionCut             Action = "cut"
	ActionCopy            Action = "copy"
	ActionPaste           Action = "paste"
)

// Output is one resolved element of an interpreted transcript: literal text
// when Action is empty, an editing action otherwise.
type Output struct {
	Text   string
	Action Action
}

func Literal(text string) Output { return Output{Text: text} }

func Act(action Action) Output { return Output{Action: action} }

func (o Output) IsLiteral() bool { return o.Action == "" }
