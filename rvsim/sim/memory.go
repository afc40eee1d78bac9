package sim

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sort"
)

// Guest memory is a sparse page map standing in for the simulated heap,
// stack, and code space. 4 KiB pages, allocated on first write.
const (
	PageAddrSize = 12
	PageKeySize  = 64 - PageAddrSize
	PageSize     = 1 << PageAddrSize
	PageAddrMask = PageSize - 1

	// The zero page is never mapped: dereferencing it is a guest bug.
	nullPageEnd = PageSize
)

type Page [PageSize]byte

type Memory struct {
	pages map[uint64]*Page

	// two-entry lookup cache: instruction fetches hammer one page while
	// data accesses hammer another.
	lastPageKeys [2]uint64
	lastPage     [2]*Page
}

func NewMemory() *Memory {
	return &Memory{
		pages:        make(map[uint64]*Page),
		lastPageKeys: [2]uint64{^uint64(0), ^uint64(0)}, // invalid keys, match nothing
	}
}

func (m *Memory) PageCount() int {
	return len(m.pages)
}

func (m *Memory) AllocPage(pageIndex uint64) *Page {
	p := &Page{}
	m.pages[pageIndex] = p
	return p
}

func (m *Memory) pageLookup(pageIndex uint64) (*Page, bool) {
	if pageIndex == m.lastPageKeys[0] {
		return m.lastPage[0], true
	}
	if pageIndex == m.lastPageKeys[1] {
		return m.lastPage[1], true
	}
	p, ok := m.pages[pageIndex]
	if ok {
		m.lastPageKeys[1] = m.lastPageKeys[0]
		m.lastPage[1] = m.lastPage[0]
		m.lastPageKeys[0] = pageIndex
		m.lastPage[0] = p
	}
	return p, ok
}

// SetUnaligned writes bytes at any address, allocating pages just in time
// and crossing a page boundary when needed.
func (m *Memory) SetUnaligned(addr uint64, dat []byte) {
	if len(dat) > PageSize {
		panic("cannot set more than a page of data")
	}
	pageIndex := addr >> PageAddrSize
	pageAddr := addr & PageAddrMask
	p, ok := m.pageLookup(pageIndex)
	if !ok {
		p = m.AllocPage(pageIndex)
	}
	d := copy(p[pageAddr:], dat)
	if d == len(dat) {
		return
	}
	// continue onto the next page
	pageIndex = (addr + uint64(d)) >> PageAddrSize
	p, ok = m.pageLookup(pageIndex)
	if !ok {
		p = m.AllocPage(pageIndex)
	}
	copy(p[:], dat[d:])
}

// GetUnaligned reads bytes at any address. Unmapped memory reads as zero.
func (m *Memory) GetUnaligned(addr uint64, dest []byte) {
	if len(dest) > PageSize {
		panic("cannot get more than a page of data")
	}
	pageIndex := addr >> PageAddrSize
	pageAddr := addr & PageAddrMask
	p, ok := m.pageLookup(pageIndex)
	var d int
	if !ok {
		l := uint64(PageSize) - pageAddr
		if l > uint64(len(dest)) {
			l = uint64(len(dest))
		}
		d = int(l)
		for i := 0; i < d; i++ {
			dest[i] = 0
		}
	} else {
		d = copy(dest, p[pageAddr:])
	}
	if d == len(dest) {
		return
	}
	pageIndex = (addr + uint64(d)) >> PageAddrSize
	p, ok = m.pageLookup(pageIndex)
	if !ok {
		for i := d; i < len(dest); i++ {
			dest[i] = 0
		}
	} else {
		copy(dest[d:], p[:])
	}
}

// SetMemoryRange streams data into memory starting at addr, e.g. to load a
// code image.
func (m *Memory) SetMemoryRange(addr uint64, r io.Reader) error {
	for {
		pageIndex := addr >> PageAddrSize
		pageAddr := addr & PageAddrMask
		p, ok := m.pageLookup(pageIndex)
		if !ok {
			p = m.AllocPage(pageIndex)
		}
		n, err := r.Read(p[pageAddr:])
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		addr += uint64(n)
	}
}

type memReader struct {
	m     *Memory
	addr  uint64
	count uint64
}

func (r *memReader) Read(dest []byte) (n int, err error) {
	if r.count == 0 {
		return 0, io.EOF
	}
	// Iterate page by page; the range may be unaligned and may span pages.
	endAddr := r.addr + r.count
	pageIndex := r.addr >> PageAddrSize
	start := r.addr & PageAddrMask
	end := uint64(PageSize)
	if pageIndex == (endAddr >> PageAddrSize) {
		end = endAddr & PageAddrMask
	}
	p, ok := r.m.pageLookup(pageIndex)
	if ok {
		n = copy(dest, p[start:end])
	} else {
		n = copy(dest, make([]byte, end-start)) // default to zeroes
	}
	r.addr += uint64(n)
	r.count -= uint64(n)
	return n, nil
}

// ReadMemoryRange exposes a memory range as an io.Reader, for the debugger
// memory dump surface and for streaming simulated-program output.
func (m *Memory) ReadMemoryRange(addr uint64, count uint64) io.Reader {
	return &memReader{m: m, addr: addr, count: count}
}

type pageEntry struct {
	Index uint64 `json:"index"`
	Data  *Page  `json:"data"`
}

func (m *Memory) MarshalJSON() ([]byte, error) {
	pages := make([]pageEntry, 0, len(m.pages))
	for k, p := range m.pages {
		pages = append(pages, pageEntry{Index: k, Data: p})
	}
	sort.Slice(pages, func(i, j int) bool {
		return pages[i].Index < pages[j].Index
	})
	return json.Marshal(pages)
}

func (m *Memory) UnmarshalJSON(data []byte) error {
	var pages []pageEntry
	if err := json.Unmarshal(data, &pages); err != nil {
		return err
	}
	m.pages = make(map[uint64]*Page)
	m.lastPageKeys = [2]uint64{^uint64(0), ^uint64(0)}
	m.lastPage = [2]*Page{nil, nil}
	for i, p := range pages {
		if _, ok := m.pages[p.Index]; ok {
			return fmt.Errorf("cannot load duplicate page, entry %d, page index %d", i, p.Index)
		}
		m.pages[p.Index] = p.Data
	}
	return nil
}

// Serialize writes the memory in a simple binary format which can be read
// again using Deserialize: a big-endian page count, then for each page its
// index and raw data.
func (m *Memory) Serialize(out io.Writer) error {
	if err := binary.Write(out, binary.BigEndian, uint64(m.PageCount())); err != nil {
		return err
	}
	for pageIndex, page := range m.pages {
		if err := binary.Write(out, binary.BigEndian, pageIndex); err != nil {
			return err
		}
		if _, err := out.Write(page[:]); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Deserialize(in io.Reader) error {
	var pageCount uint64
	if err := binary.Read(in, binary.BigEndian, &pageCount); err != nil {
		return err
	}
	for i := uint64(0); i < pageCount; i++ {
		var pageIndex uint64
		if err := binary.Read(in, binary.BigEndian, &pageIndex); err != nil {
			return err
		}
		page := m.AllocPage(pageIndex)
		if _, err := io.ReadFull(in, page[:]); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Usage() string {
	total := uint64(len(m.pages)) * PageSize
	const unit = 1024
	if total < unit {
		return fmt.Sprintf("%d B", total)
	}
	div, exp := uint64(unit), 0
	for n := total / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	// KiB, MiB, GiB, TiB, ...
	return fmt.Sprintf("%.1f %ciB", float64(total)/float64(div), "KMGTPE"[exp])
}
