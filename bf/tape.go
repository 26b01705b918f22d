package bf

// Tape is a fixed size ring of 8-bit cells with a cursor.
type Tape struct {
	mem     []uint8
	mem_ptr int
}

func NewTape(size int) (*Tape, error) {
	if size < 1 {
		return nil, &InvalidTapeSizeError{Size: size}
	}
	return &Tape{mem: make([]uint8, size)}, nil
}

func (t *Tape) Len() int {
	return len(t.mem)
}

func (t *Tape) Cursor() int {
	return t.mem_ptr
}

func (t *Tape) Get() uint8 {
	return t.mem[t.mem_ptr]
}

func (t *Tape) Set(v uint8) {
	t.mem[t.mem_ptr] = v
}

func (t *Tape) Inc() {
	t.mem[t.mem_ptr]++
}

func (t *Tape) Dec() {
	t.mem[t.mem_ptr]--
}

func (t *Tape) Right() {
	t.mem_ptr++
	if t.mem_ptr >= len(t.mem) {
		t.mem_ptr = 0
	}
}

func (t *Tape) Left() {
	if t.mem_ptr == 0 {
		t.mem_ptr = len(t.mem) - 1
	} else {
		t.mem_ptr--
	}
}

func wrap_index(i int, N int) int {
	i %= N
	if i < 0 {
		i += N
	}
	return i
}

// At indexes the tape relative to cell 0. Any integer is accepted, so At(-1)
// is the last cell.
func (t *Tape) At(j int) uint8 {
	return t.mem[wrap_index(j, len(t.mem))]
}

func (t *Tape) Reset() {
	t.mem_ptr = 0
	clear(t.mem)
}
