package audit

import (
	"bytes"
	"encoding/csv"
	"strconv"

	"github.com/counselhub/counselhub/internal/shared"
)

var csvHeader = []string{"일시", "사용자ID", "이름", "이메일", "작업", "대상", "대상ID", "상세"}

// WriteCSV encodes entries for spreadsheet download. A UTF-8 BOM keeps Excel from garbling Korean.
func WriteCSV(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("\ufeff")
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, e := range entries {
		record := []string{
			e.At.In(shared.Seoul).Format("2006-01-02 15:04:05"),
			strconv.FormatInt(e.ActorID, 10),
			e.ActorName,
			e.ActorEmail,
			e.Action,
			e.Entity,
			e.EntityID,
			string(e.Meta),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
