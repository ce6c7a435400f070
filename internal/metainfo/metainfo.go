// Package metainfo parses single-file .torrent metainfo dictionaries and
// computes the torrent's info hash. Multi-file layouts are out of scope.
package metainfo

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"time"

	"github.com/ntran/leechcore/internal/bencode"
)

// Info describes the single-file layout of a torrent's "info" dictionary.
type Info struct {
	Name        string
	PieceLength int64
	Pieces      [][sha1.Size]byte
	Private     bool
	Length      int64
}

// Metainfo is a fully parsed, validated .torrent file.
type Metainfo struct {
	Info         *Info
	Announce     string
	AnnounceList [][]string
	CreationDate time.Time
	CreatedBy    string
	Comment      string
	Encoding     string
	InfoHash     [sha1.Size]byte
}

var (
	ErrTopLevelNotDict       = errors.New("metainfo: top-level is not a dict")
	ErrAnnounceMissing       = errors.New("metainfo: both announce and announce-list missing")
	ErrInfoMissing           = errors.New("metainfo: 'info' missing")
	ErrInfoNotDict           = errors.New("metainfo: 'info' is not a dict")
	ErrNameMissing           = errors.New("metainfo: 'info' name missing")
	ErrPieceLenMissing       = errors.New("metainfo: 'info' piece length missing")
	ErrPieceLenNonPositive   = errors.New("metainfo: 'info' piece length must be > 0")
	ErrPiecesMissing         = errors.New("metainfo: 'info' pieces missing")
	ErrPiecesLenInvalid      = errors.New("metainfo: 'info' pieces length not a multiple of 20")
	ErrMultiFileNotSupported = errors.New("metainfo: multi-file torrents are not supported")
	ErrLengthMissing         = errors.New("metainfo: 'info' length missing")
	ErrCreationDateInvalid   = errors.New("metainfo: invalid creation date")
)

// Size returns the total length of the torrent's single file.
func (m *Metainfo) Size() int64 { return m.Info.Length }

// Parse parses and validates a complete .torrent file's bencoded bytes.
func Parse(data []byte) (*Metainfo, error) {
	raw, err := bencode.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	root, ok := raw.(map[string]any)
	if !ok {
		return nil, ErrTopLevelNotDict
	}

	announce, err := parseOptionalString(root["announce"])
	if err != nil {
		return nil, err
	}
	announceList, err := parseAnnounceList(root["announce-list"])
	if err != nil {
		return nil, err
	}
	if announce == "" && len(announceList) == 0 {
		return nil, ErrAnnounceMissing
	}

	var creationDate time.Time
	if v, ok := root["creation date"]; ok {
		secs, err := bencode.ToInt(v)
		if err != nil || secs < 0 {
			return nil, ErrCreationDateInvalid
		}
		creationDate = time.Unix(secs, 0).UTC()
	}

	createdBy, err := parseOptionalString(root["created by"])
	if err != nil {
		return nil, err
	}
	comment, err := parseOptionalString(root["comment"])
	if err != nil {
		return nil, err
	}
	encoding, err := parseOptionalString(root["encoding"])
	if err != nil {
		return nil, err
	}

	rawInfo, ok := root["info"]
	if !ok {
		return nil, ErrInfoMissing
	}
	infoDict, ok := rawInfo.(map[string]any)
	if !ok {
		return nil, ErrInfoNotDict
	}

	info, err := parseInfo(infoDict)
	if err != nil {
		return nil, err
	}

	hash, err := computeInfoHash(infoDict)
	if err != nil {
		return nil, fmt.Errorf("metainfo: info hash: %w", err)
	}

	return &Metainfo{
		Info:         info,
		InfoHash:     hash,
		Announce:     announce,
		AnnounceList: announceList,
		CreationDate: creationDate,
		CreatedBy:    createdBy,
		Comment:      comment,
		Encoding:     encoding,
	}, nil
}

func parseInfo(dict map[string]any) (*Info, error) {
	var (
		out Info
		err error
	)

	nameVal, ok := dict["name"]
	if !ok {
		return nil, ErrNameMissing
	}
	out.Name, err = bencode.ToString(nameVal)
	if err != nil || out.Name == "" {
		return nil, fmt.Errorf("metainfo: invalid 'name': %w", err)
	}

	plVal, ok := dict["piece length"]
	if !ok {
		return nil, ErrPieceLenMissing
	}
	plen, err := bencode.ToInt(plVal)
	if err != nil || plen <= 0 {
		return nil, ErrPieceLenNonPositive
	}
	out.PieceLength = plen

	out.Pieces, err = parsePieces(dict["pieces"])
	if err != nil {
		return nil, err
	}

	if v, ok := dict["private"]; ok {
		privInt, err := bencode.ToInt(v)
		if err != nil || (privInt != 0 && privInt != 1) {
			return nil, fmt.Errorf("metainfo: invalid 'private' flag")
		}
		out.Private = privInt == 1
	}

	if _, hasFiles := dict["files"]; hasFiles {
		return nil, ErrMultiFileNotSupported
	}

	lengthVal, hasLength := dict["length"]
	if !hasLength {
		return nil, ErrLengthMissing
	}
	length, err := bencode.ToInt(lengthVal)
	if err != nil || length < 0 {
		return nil, fmt.Errorf("metainfo: invalid 'length'")
	}
	out.Length = length

	return &out, nil
}

func parseAnnounceList(v any) ([][]string, error) {
	if v == nil {
		return nil, nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("metainfo: invalid announce-list")
	}
	tiered, err := bencode.ToTieredStrings(raw)
	if err != nil {
		return nil, fmt.Errorf("metainfo: invalid announce-list: %w", err)
	}

	out := make([][]string, 0, len(tiered))
	for _, tier := range tiered {
		if len(tier) > 0 {
			out = append(out, tier)
		}
	}
	return out, nil
}

func parseOptionalString(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	return bencode.ToString(v)
}

func computeInfoHash(info map[string]any) ([sha1.Size]byte, error) {
	buf, err := bencode.Marshal(info)
	if err != nil {
		return [sha1.Size]byte{}, err
	}
	return sha1.Sum(buf), nil
}

func parsePieces(v any) ([][sha1.Size]byte, error) {
	if v == nil {
		return nil, ErrPiecesMissing
	}

	pieceBytes, err := bencode.ToBytes(v)
	if err != nil {
		return nil, fmt.Errorf("metainfo: 'pieces': %w", err)
	}
	if len(pieceBytes)%sha1.Size != 0 {
		return nil, ErrPiecesLenInvalid
	}

	n := len(pieceBytes) / sha1.Size
	out := make([][sha1.Size]byte, n)
	for i := 0; i < n; i++ {
		copy(out[i][:], pieceBytes[i*sha1.Size:(i+1)*sha1.Size])
	}

	return out, nil
}
