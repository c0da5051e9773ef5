package model

import (
	"fmt"
	"strings"
)

// recordSep joins individual "serial::name" tokens into the single blob
// persisted by the record store; fieldSep separates the two fields of a
// token. Both match spec.md's described persisted format exactly.
const (
	recordSep = "||"
	fieldSep  = "::"
)

// String renders the record as "serial::name".
func (r DeviceRecord) String() string {
	return r.Serial + fieldSep + r.VolumeName
}

// ParseDeviceRecord parses a single "serial::name" token. Parsing is total:
// malformed input always returns an error rather than a partially-populated
// record.
func ParseDeviceRecord(tok string) (DeviceRecord, error) {
	parts := strings.SplitN(tok, fieldSep, 2)
	if len(parts) != 2 || parts[0] == "" {
		return DeviceRecord{}, fmt.Errorf("model: malformed device record token %q", tok)
	}
	return DeviceRecord{Serial: parts[0], VolumeName: parts[1]}, nil
}

// EncodeDeviceRecords joins records into the single blob format persisted
// under the "deviceRecords" key.
func EncodeDeviceRecords(recs []DeviceRecord) string {
	toks := make([]string, 0, len(recs))
	for _, r := range recs {
		toks = append(toks, r.String())
	}
	return strings.Join(toks, recordSep)
}

// DecodeDeviceRecords parses the persisted blob. Malformed tokens are
// skipped with the caller-supplied warn callback invoked for each one, so a
// single corrupt entry cannot prevent the rest of the list from loading.
func DecodeDeviceRecords(blob string, warn func(tok string, err error)) []DeviceRecord {
	if blob == "" {
		return nil
	}
	toks := strings.Split(blob, recordSep)
	recs := make([]DeviceRecord, 0, len(toks))
	for _, tok := range toks {
		if tok == "" {
			continue
		}
		rec, err := ParseDeviceRecord(tok)
		if err != nil {
			if warn != nil {
				warn(tok, err)
			}
			continue
		}
		recs = append(recs, rec)
	}
	return recs
}
