package storage

import (
	"context"
	"encoding/binary"
	"fmt"
)

// largeDocMagic identifies a large-document index page payload.
const largeDocMagic uint32 = 0x4c444f43 // "LDOC"

// largeDocDataHeaderLen is the fixed prefix of a LargeDocumentData page's
// payload: page_number(4) + next_page_id(4) = 8 bytes, ahead of the chunk.
const largeDocDataHeaderLen = 8

// Large-document index page payload offsets.
const (
	offLDMagic        = 0
	offLDTotalLength  = 4
	offLDPageCount    = 8
	offLDFirstDataPID = 12
	offLDCollection   = 16
)

// LargeDocumentStorage stores payloads that exceed a single page's payload
// capacity as an index page plus a singly-linked chain of data pages,
// generalizing the teacher's overflow-record machinery
// (insertOverflowRecord/ReadOverflowData/FreeOverflowPages in
// storage/pager.go) to the spec's index-page-plus-chain layout.
type LargeDocumentStorage struct {
	pm       *PageManager
	pageSize int
}

// NewLargeDocumentStorage constructs a LargeDocumentStorage over pm.
func NewLargeDocumentStorage(pm *PageManager, pageSize int) *LargeDocumentStorage {
	return &LargeDocumentStorage{pm: pm, pageSize: pageSize}
}

func (s *LargeDocumentStorage) chunkCap() int {
	return s.pageSize - HeaderSize - largeDocDataHeaderLen
}

// StoreLargeDocument splits payload into chunks, writes the data-page chain,
// and returns the index page id.
func (s *LargeDocumentStorage) StoreLargeDocument(payload []byte, collectionName string) (uint32, error) {
	indexPage, err := s.pm.NewPage(PageTypeLargeDocumentIndex)
	if err != nil {
		return 0, err
	}

	chunkCap := s.chunkCap()
	if chunkCap <= 0 {
		return 0, ErrInvalidArgument
	}
	pageCount := (len(payload) + chunkCap - 1) / chunkCap
	if pageCount == 0 {
		pageCount = 1
	}

	pageIDs := make([]uint32, pageCount)
	pages := make([]*Page, pageCount)
	for k := 0; k < pageCount; k++ {
		p, err := s.pm.NewPage(PageTypeLargeDocumentData)
		if err != nil {
			return 0, err
		}
		pageIDs[k] = p.PageID()
		pages[k] = p
	}

	for k := 0; k < pageCount; k++ {
		start := k * chunkCap
		end := start + chunkCap
		if end > len(payload) {
			end = len(payload)
		}
		chunk := payload[start:end]

		var nextID uint32
		if k+1 < pageCount {
			nextID = pageIDs[k+1]
		}
		buf := make([]byte, largeDocDataHeaderLen+len(chunk))
		binary.LittleEndian.PutUint32(buf[0:], uint32(k))
		binary.LittleEndian.PutUint32(buf[4:], nextID)
		copy(buf[largeDocDataHeaderLen:], chunk)

		if err := pages[k].WriteData(0, buf); err != nil {
			return 0, err
		}
		var prevID uint32
		if k > 0 {
			prevID = pageIDs[k-1]
		}
		if err := pages[k].SetLinks(prevID, nextID); err != nil {
			return 0, err
		}
		if err := s.pm.SavePage(pages[k]); err != nil {
			return 0, err
		}
	}

	firstDataPageID := uint32(0)
	if pageCount > 0 {
		firstDataPageID = pageIDs[0]
	}

	collBytes := []byte(collectionName)
	indexBuf := make([]byte, offLDCollection+2+len(collBytes))
	binary.LittleEndian.PutUint32(indexBuf[offLDMagic:], largeDocMagic)
	binary.LittleEndian.PutUint32(indexBuf[offLDTotalLength:], uint32(len(payload)))
	binary.LittleEndian.PutUint32(indexBuf[offLDPageCount:], uint32(pageCount))
	binary.LittleEndian.PutUint32(indexBuf[offLDFirstDataPID:], firstDataPageID)
	binary.LittleEndian.PutUint16(indexBuf[offLDCollection:], uint16(len(collBytes)))
	copy(indexBuf[offLDCollection+2:], collBytes)

	if err := indexPage.WriteData(0, indexBuf); err != nil {
		return 0, err
	}
	if err := s.pm.SavePage(indexPage); err != nil {
		return 0, err
	}
	return indexPage.PageID(), nil
}

type largeDocIndex struct {
	totalLength     uint32
	pageCount       uint32
	firstDataPageID uint32
	collectionName  string
}

func (s *LargeDocumentStorage) readIndex(indexPageID uint32) (*largeDocIndex, error) {
	page, err := s.pm.GetPage(indexPageID, true)
	if err != nil {
		return nil, err
	}
	if page.Type() != PageTypeLargeDocumentIndex {
		return nil, ErrInvalidOperation
	}
	header, err := page.GetDataSpan(0, offLDCollection+2)
	if err != nil {
		return nil, ErrInvalidOperation
	}
	if binary.LittleEndian.Uint32(header[offLDMagic:]) != largeDocMagic {
		return nil, ErrInvalidOperation
	}
	collLen := int(binary.LittleEndian.Uint16(header[offLDCollection:]))
	collBytes, err := page.GetDataSpan(offLDCollection+2, collLen)
	if err != nil {
		return nil, ErrInvalidOperation
	}
	return &largeDocIndex{
		totalLength:     binary.LittleEndian.Uint32(header[offLDTotalLength:]),
		pageCount:       binary.LittleEndian.Uint32(header[offLDPageCount:]),
		firstDataPageID: binary.LittleEndian.Uint32(header[offLDFirstDataPID:]),
		collectionName:  string(collBytes),
	}, nil
}

// ReadLargeDocument walks the data-page chain and reconstructs the original
// payload. Fails with ErrInvalidOperation if indexPageID is not a
// LargeDocumentIndex page, or if any visited page fails its chain-position
// assertion.
func (s *LargeDocumentStorage) ReadLargeDocument(ctx context.Context, indexPageID uint32) ([]byte, error) {
	idx, err := s.readIndex(indexPageID)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, idx.totalLength)
	pageID := idx.firstDataPageID
	for i := uint32(0); i < idx.pageCount && pageID != 0; i++ {
		if err := ctx.Err(); err != nil {
			return nil, ErrCanceled
		}
		page, err := s.pm.GetPage(pageID, true)
		if err != nil {
			return nil, err
		}
		if page.Type() != PageTypeLargeDocumentData {
			return nil, ErrInvalidOperation
		}
		head, err := page.GetDataSpan(0, largeDocDataHeaderLen)
		if err != nil {
			return nil, ErrInvalidOperation
		}
		pageNumber := binary.LittleEndian.Uint32(head[0:])
		nextID := binary.LittleEndian.Uint32(head[4:])
		if pageNumber != i {
			return nil, ErrInvalidOperation
		}
		chunk, err := page.ReadData(largeDocDataHeaderLen, s.pageSize)
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
		pageID = nextID
	}

	if uint32(len(out)) > idx.totalLength {
		out = out[:idx.totalLength]
	}
	return out, nil
}

// DeleteLargeDocument frees the index page and every data page in its chain.
// Calling it on a page that is not a LargeDocumentIndex is a no-op.
func (s *LargeDocumentStorage) DeleteLargeDocument(indexPageID uint32) error {
	idx, err := s.readIndex(indexPageID)
	if err != nil {
		if err == ErrInvalidOperation {
			return nil
		}
		return err
	}

	pageID := idx.firstDataPageID
	for i := uint32(0); i < idx.pageCount && pageID != 0; i++ {
		page, err := s.pm.GetPage(pageID, true)
		if err != nil {
			return err
		}
		next := page.NextPageID()
		if err := s.pm.FreePage(pageID); err != nil {
			return err
		}
		pageID = next
	}
	return s.pm.FreePage(indexPageID)
}

// ValidateLargeDocument reports whether indexPageID describes a structurally
// consistent large-document chain: correct page type, a chain exactly
// page_count long with no extra trailing pages, and page_number in order.
func (s *LargeDocumentStorage) ValidateLargeDocument(indexPageID uint32) bool {
	if indexPageID == 0 {
		return false
	}
	idx, err := s.readIndex(indexPageID)
	if err != nil {
		return false
	}

	pageID := idx.firstDataPageID
	var count uint32
	for pageID != 0 {
		page, err := s.pm.GetPage(pageID, true)
		if err != nil {
			return false
		}
		if page.Type() != PageTypeLargeDocumentData {
			return false
		}
		head, err := page.GetDataSpan(0, largeDocDataHeaderLen)
		if err != nil {
			return false
		}
		if binary.LittleEndian.Uint32(head[0:]) != count {
			return false
		}
		count++
		if count > idx.pageCount {
			return false
		}
		pageID = binary.LittleEndian.Uint32(head[4:])
	}
	return count == idx.pageCount
}

// LargeDocumentStatistics is the human/log-facing statistics surface for a
// stored large document.
type LargeDocumentStatistics struct {
	IndexPageID     uint32
	TotalLength     uint32
	PageCount       uint32
	FirstDataPageID uint32
}

func (s LargeDocumentStatistics) String() string {
	return fmt.Sprintf("LargeDocument[index=%d, total_length=%d bytes, page_count=%d, first_data_page=%d]",
		s.IndexPageID, s.TotalLength, s.PageCount, s.FirstDataPageID)
}

// GetStatistics returns the stored document's layout statistics. Fails with
// ErrInvalidOperation if indexPageID is not a LargeDocumentIndex page.
func (s *LargeDocumentStorage) GetStatistics(indexPageID uint32) (LargeDocumentStatistics, error) {
	idx, err := s.readIndex(indexPageID)
	if err != nil {
		return LargeDocumentStatistics{}, err
	}
	return LargeDocumentStatistics{
		IndexPageID:     indexPageID,
		TotalLength:     idx.totalLength,
		PageCount:       idx.pageCount,
		FirstDataPageID: idx.firstDataPageID,
	}, nil
}
