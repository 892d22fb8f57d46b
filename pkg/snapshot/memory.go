package snapshot

import (
	"errors"
	"fmt"
	"io"
	"os"

	lru "github.com/hashicorp/golang-lru"
)

// pageSize is the granularity at which file backed memory is read and
// cached.
const pageSize = 0x1000

// errUnmapped is returned when a read starts at an address that no region
// covers.
var errUnmapped = errors.New("address not mapped")

// memoryReader reads the memory of the debuggee.
type memoryReader interface {
	readMemory(buf []byte, addr uint64) (n int, err error)
}

// A splicedMemory represents a memory space formed from multiple regions,
// each of which may override previously added regions. A snapshot can map
// a whole file and then patch a few bytes of it with an inline region
// added on top.
type splicedMemory struct {
	readers []readerEntry
}

type readerEntry struct {
	offset uint64
	length uint64
	reader memoryReader
}

// add adds a new region to the splicedMemory, which may override existing
// regions.
func (r *splicedMemory) add(reader memoryReader, off, length uint64) {
	if length == 0 {
		return
	}
	end := off + length - 1
	newReaders := make([]readerEntry, 0, len(r.readers)+1)
	add := func(e readerEntry) {
		if e.length == 0 {
			return
		}
		newReaders = append(newReaders, e)
	}
	inserted := false
	for _, entry := range r.readers {
		entryEnd := entry.offset + entry.length - 1
		switch {
		case entryEnd < off:
			// Entry is completely before the new region.
			add(entry)
		case end < entry.offset:
			// Entry is completely after the new region.
			if !inserted {
				add(readerEntry{off, length, reader})
				inserted = true
			}
			add(entry)
		case off <= entry.offset && entryEnd <= end:
			// Entry is completely overwritten by the new region. Drop.
		case entry.offset < off && entryEnd <= end:
			// New region overwrites the end of the entry.
			entry.length = off - entry.offset
			add(entry)
		case off <= entry.offset && end < entryEnd:
			// New region overwrites the beginning of the entry.
			if !inserted {
				add(readerEntry{off, length, reader})
				inserted = true
			}
			overlap := end + 1 - entry.offset
			entry.offset += overlap
			entry.length -= overlap
			add(entry)
		case entry.offset < off && end < entryEnd:
			// New region punches a hole in the entry.
			add(readerEntry{entry.offset, off - entry.offset, entry.reader})
			add(readerEntry{off, length, reader})
			add(readerEntry{end + 1, entryEnd - end, entry.reader})
			inserted = true
		default:
			panic(fmt.Sprintf("unhandled case: existing entry is %#x len %#x, new is %#x len %#x", entry.offset, entry.length, off, length))
		}
	}
	if !inserted {
		newReaders = append(newReaders, readerEntry{off, length, reader})
	}
	r.readers = newReaders
}

// readMemory fills buf with the memory starting at addr. Reading stops at
// the first address not covered by a region, n reports how many bytes were
// read.
func (r *splicedMemory) readMemory(buf []byte, addr uint64) (n int, err error) {
	for _, entry := range r.readers {
		if len(buf) == 0 {
			return n, nil
		}
		if entry.offset+entry.length <= addr {
			continue
		}
		if entry.offset > addr {
			break
		}

		// Don't go past the region.
		pb := buf
		if uint64(len(pb)) > entry.offset+entry.length-addr {
			pb = pb[:entry.offset+entry.length-addr]
		}
		pn, err := entry.reader.readMemory(pb, addr)
		n += pn
		if err != nil {
			return n, fmt.Errorf("reading memory at %#x: %w", addr, err)
		}
		buf = buf[pn:]
		addr += uint64(pn)
	}
	if len(buf) != 0 {
		return n, fmt.Errorf("%w: %#x", errUnmapped, addr)
	}
	return n, nil
}

// byteRegion is memory whose contents are inlined in the snapshot.
type byteRegion struct {
	base uint64
	data []byte
}

func (r *byteRegion) readMemory(buf []byte, addr uint64) (int, error) {
	return copy(buf, r.data[addr-r.base:]), nil
}

type pageKey struct {
	f    *os.File
	page int64
}

// fileRegion is memory backed by a range of a file. The file is read one
// page at a time, pages are kept in a cache shared by every region.
type fileRegion struct {
	f      *os.File
	base   uint64
	offset int64
	pages  *lru.Cache
}

func (r *fileRegion) readMemory(buf []byte, addr uint64) (int, error) {
	n := 0
	for n < len(buf) {
		off := r.offset + int64(addr-r.base) + int64(n)
		pageno := off / pageSize
		page, err := r.page(pageno)
		if err != nil {
			return n, err
		}
		po := int(off - pageno*pageSize)
		if po >= len(page) {
			return n, fmt.Errorf("%s is shorter than its region: %w", r.f.Name(), io.ErrUnexpectedEOF)
		}
		n += copy(buf[n:], page[po:])
	}
	return n, nil
}

func (r *fileRegion) page(pageno int64) ([]byte, error) {
	key := pageKey{r.f, pageno}
	if v, ok := r.pages.Get(key); ok {
		return v.([]byte), nil
	}
	page := make([]byte, pageSize)
	n, err := r.f.ReadAt(page, pageno*pageSize)
	if err != nil && err != io.EOF {
		return nil, err
	}
	page = page[:n]
	r.pages.Add(key, page)
	return page, nil
}
