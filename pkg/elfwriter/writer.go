// elfwriter is a package to write ELF files without having their entire
// contents in memory at any one time.
// This package is incomplete, only the features needed to produce small
// executables and shared objects for testing the shared library engine are
// implemented, notably missing:
// - 32bit and big endian files
// - relocations

package elfwriter

import (
	"debug/elf"
	"encoding/binary"
	"io"
)

// WriteCloserSeeker is the union of io.Writer, io.Closer and io.Seeker.
type WriteCloserSeeker interface {
	io.Writer
	io.Seeker
	io.Closer
}

const (
	ehsize    = 64
	phentsize = 56
	shentsize = 64
)

// Writer writes ELF files.
type Writer struct {
	w     WriteCloserSeeker
	Err   error
	Progs []*elf.ProgHeader

	sections []*Section

	seekEntry      int64
	seekProgHeader int64
	seekSectHeader int64
	seekProgNum    int64
}

// Note is an ELF note, Name must include its terminating NUL.
type Note struct {
	Type elf.NType
	Name string
	Data []byte
}

// Section describes a section, Offset is filled in by WriteSection.
type Section struct {
	Name      string
	Type      elf.SectionType
	Flags     elf.SectionFlag
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	Addralign uint64
	Entsize   uint64
	Data      []byte
}

// New creates a new Writer.
func New(w WriteCloserSeeker, fhdr *elf.FileHeader) *Writer {
	if seek, _ := w.Seek(0, io.SeekCurrent); seek != 0 {
		panic("can't write halfway through a file")
	}

	r := &Writer{w: w}

	if fhdr.Class != elf.ELFCLASS64 {
		panic("unsupported")
	}

	if fhdr.Data != elf.ELFDATA2LSB {
		panic("unsupported")
	}

	// e_ident
	r.Write([]byte{0x7f, 'E', 'L', 'F', byte(fhdr.Class), byte(fhdr.Data), byte(fhdr.Version), byte(fhdr.OSABI), byte(fhdr.ABIVersion), 0, 0, 0, 0, 0, 0, 0})

	r.u16(uint16(fhdr.Type))    // e_type
	r.u16(uint16(fhdr.Machine)) // e_machine
	r.u32(uint32(fhdr.Version)) // e_version
	r.seekEntry = r.Here()
	r.u64(fhdr.Entry) // e_entry
	r.seekProgHeader = r.Here()
	r.u64(0) // e_phoff
	r.seekSectHeader = r.Here()
	r.u64(0)         // e_shoff
	r.u32(0)         // e_flags
	r.u16(ehsize)    // e_ehsize
	r.u16(phentsize) // e_phentsize
	r.seekProgNum = r.Here()
	r.u16(0)                     // e_phnum
	r.u16(shentsize)             // e_shentsize
	r.u16(0)                     // e_shnum
	r.u16(uint16(elf.SHN_UNDEF)) // e_shstrndx

	// Sanity check, size of file header should be the same as ehsize
	if sz, _ := w.Seek(0, io.SeekCurrent); sz != ehsize {
		panic("internal error, ELF header size")
	}

	return r
}

// WriteNotes writes notes to the current location, returns a ProgHeader describing the
// notes.
func (w *Writer) WriteNotes(notes []Note) *elf.ProgHeader {
	if len(notes) == 0 {
		return nil
	}
	w.Align(4)
	h := &elf.ProgHeader{
		Type:  elf.PT_NOTE,
		Off:   uint64(w.Here()),
		Align: 4,
	}
	data := NoteData(notes)
	w.Write(data)
	h.Filesz = uint64(len(data))
	return h
}

// NoteData encodes notes as the contents of a SHT_NOTE section.
func NoteData(notes []Note) []byte {
	var out []byte
	pad := func() {
		for len(out)%4 != 0 {
			out = append(out, 0)
		}
	}
	for _, note := range notes {
		var hdr [12]byte
		binary.LittleEndian.PutUint32(hdr[0:], uint32(len(note.Name)))
		binary.LittleEndian.PutUint32(hdr[4:], uint32(len(note.Data)))
		binary.LittleEndian.PutUint32(hdr[8:], uint32(note.Type))
		out = append(out, hdr[:]...)
		out = append(out, note.Name...)
		pad()
		out = append(out, note.Data...)
		pad()
	}
	return out
}

// WriteSection writes the contents of sect at the current location (after
// aligning it to sect.Addralign) and records it for WriteSectionHeaders.
// Sections of type SHT_NOBITS only take space in the section header
// table.
func (w *Writer) WriteSection(sect *Section) {
	if sect.Type != elf.SHT_NOBITS {
		if sect.Addralign > 1 {
			w.Align(int64(sect.Addralign))
		}
		sect.Offset = uint64(w.Here())
		w.Write(sect.Data)
		sect.Size = uint64(len(sect.Data))
	} else {
		sect.Offset = uint64(w.Here())
	}
	w.sections = append(w.sections, sect)
}

// WriteProgramHeaders writes the program headers at the current location
// and patches the file header accordingly.
func (w *Writer) WriteProgramHeaders() {
	w.Align(8)
	phoff := w.Here()

	// Patch File Header
	w.w.Seek(w.seekProgHeader, io.SeekStart)
	w.u64(uint64(phoff))
	w.w.Seek(w.seekProgNum, io.SeekStart)
	w.u16(uint16(len(w.Progs)))
	w.w.Seek(0, io.SeekEnd)

	for _, prog := range w.Progs {
		w.u32(uint32(prog.Type))
		w.u32(uint32(prog.Flags))
		w.u64(prog.Off)
		w.u64(prog.Vaddr)
		w.u64(prog.Paddr)
		w.u64(prog.Filesz)
		w.u64(prog.Memsz)
		w.u64(prog.Align)
	}
}

// WriteSectionHeaders writes the section name table followed by the
// section header table for all the sections written with WriteSection and
// patches the file header accordingly. A null section is always written
// first so section indexes start at 1.
func (w *Writer) WriteSectionHeaders() {
	strtab := []byte{0}
	nameOff := make([]uint32, len(w.sections))
	for i, sect := range w.sections {
		nameOff[i] = uint32(len(strtab))
		strtab = append(strtab, []byte(sect.Name)...)
		strtab = append(strtab, 0)
	}
	shstrtabName := uint32(len(strtab))
	strtab = append(strtab, []byte(".shstrtab\x00")...)
	shstrtabOff := w.Here()
	w.Write(strtab)

	w.Align(8)
	shoff := w.Here()
	shnum := len(w.sections) + 2

	w.w.Seek(w.seekSectHeader, io.SeekStart)
	w.u64(uint64(shoff))
	w.w.Seek(w.seekProgNum+4, io.SeekStart)
	w.u16(uint16(shnum))
	w.u16(uint16(shnum - 1))
	w.w.Seek(0, io.SeekEnd)

	w.sectionHeader(0, &Section{})
	for i, sect := range w.sections {
		w.sectionHeader(nameOff[i], sect)
	}
	w.sectionHeader(shstrtabName, &Section{Type: elf.SHT_STRTAB, Offset: uint64(shstrtabOff), Size: uint64(len(strtab)), Addralign: 1})
}

func (w *Writer) sectionHeader(name uint32, sect *Section) {
	w.u32(name)
	w.u32(uint32(sect.Type))
	w.u64(uint64(sect.Flags))
	w.u64(sect.Addr)
	w.u64(sect.Offset)
	w.u64(sect.Size)
	w.u32(sect.Link)
	w.u32(sect.Info)
	w.u64(sect.Addralign)
	w.u64(sect.Entsize)
}

// SectionIndex returns the index that the section named name will have in
// the section header table.
func (w *Writer) SectionIndex(name string) int {
	for i, sect := range w.sections {
		if sect.Name == name {
			return i + 1
		}
	}
	return 0
}

// Here returns the current seek offset from the start of the file.
func (w *Writer) Here() int64 {
	r, err := w.w.Seek(0, io.SeekCurrent)
	if err != nil && w.Err == nil {
		w.Err = err
	}
	return r
}

// Align writes as many padding bytes as needed to make the current file
// offset a multiple of align.
func (w *Writer) Align(align int64) {
	off := w.Here()
	alignOff := (off + (align - 1)) &^ (align - 1)
	if alignOff-off > 0 {
		w.Write(make([]byte, alignOff-off))
	}
}

func (w *Writer) Write(buf []byte) {
	_, err := w.w.Write(buf)
	if err != nil && w.Err == nil {
		w.Err = err
	}
}

func (w *Writer) u16(n uint16) {
	err := binary.Write(w.w, binary.LittleEndian, n)
	if err != nil && w.Err == nil {
		w.Err = err
	}
}

func (w *Writer) u32(n uint32) {
	err := binary.Write(w.w, binary.LittleEndian, n)
	if err != nil && w.Err == nil {
		w.Err = err
	}
}

func (w *Writer) u64(n uint64) {
	err := binary.Write(w.w, binary.LittleEndian, n)
	if err != nil && w.Err == nil {
		w.Err = err
	}
}
