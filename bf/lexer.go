package bf

type Command byte

const (
	Increment Command = '+'
	Decrement Command = '-'
	Left      Command = '<'
	Right     Command = '>'
	Output    Command = '.'
	Input     Command = ','
	LoopStart Command = '['
	LoopEnd   Command = ']'
	Ignore    Command = ' '
)

func parse(c byte) Command {
	switch c {
	case '+':
		return Increment
	case '-':
		return Decrement
	case '>':
		return Right
	case '<':
		return Left
	case '.':
		return Output
	case ',':
		return Input
	case '[':
		return LoopStart
	case ']':
		return LoopEnd
	default:
		return Ignore
	}
}

func (c Command) String() string {
	switch c {
	case Increment, Decrement, Left, Right, Output, Input, LoopStart, LoopEnd:
		return string(rune(c))
	default:
		return " "
	}
}

// PreLex drops everything that is not an instruction
func PreLex(source string) string {
	result := make([]byte, 0, len(source))
	for j := 0; j < len(source); j++ {
		if parse(source[j]) != Ignore {
			result = append(result, source[j])
		}
	}
	return string(result)
}

// Lex returns the instruction stream of source. Positions are not kept, so
// use the source itself when an error has to point somewhere.
func Lex(source string) []Command {
	commands := []Command{}
	for j := 0; j < len(source); j++ {
		if cmd := parse(source[j]); cmd != Ignore {
			commands = append(commands, cmd)
		}
	}
	return commands
}

// Validate checks the bracket structure of source without running it. It
// reports the same UnmatchedOpenError / UnmatchedCloseError a run would hit.
func Validate(source string) error {
	var open []int
	for j := 0; j < len(source); j++ {
		switch parse(source[j]) {
		case LoopStart:
			open = append(open, j)
		case LoopEnd:
			if len(open) == 0 {
				return &UnmatchedCloseError{Pos: j}
			}
			open = open[:len(open)-1]
		}
	}
	if len(open) > 0 {
		return &UnmatchedOpenError{Pos: open[len(open)-1]}
	}
	return nil
}
