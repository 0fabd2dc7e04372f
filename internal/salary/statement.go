package salary

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/counselhub/counselhub/internal/shared"
)

// Renderer converts HTML into PDF.
type Renderer interface {
	RenderHTML(ctx context.Context, html string) ([]byte, error)
}

var krw = message.NewPrinter(language.Korean)

// FormatKRW renders an amount with thousands separators and the won suffix.
func FormatKRW(v int64) string {
	return krw.Sprintf("%d원", v)
}

var statementTmpl = template.Must(template.New("statement").Funcs(template.FuncMap{"krw": FormatKRW}).Parse(`<!DOCTYPE html>
<html lang="ko"><head><meta charset="utf-8"><title>급여 명세서 {{.Record.Period}}</title>
<style>
body { font-family: 'Noto Sans KR', sans-serif; margin: 40px; color: #222; }
h1 { font-size: 22px; border-bottom: 2px solid #333; padding-bottom: 8px; }
table { width: 100%; border-collapse: collapse; margin-top: 16px; }
th, td { border: 1px solid #bbb; padding: 8px 12px; }
th { background: #f3f3f3; text-align: left; width: 40%; }
td { text-align: right; }
.total td { font-weight: bold; }
footer { margin-top: 24px; font-size: 12px; color: #777; }
</style></head>
<body>
<h1>급여 명세서</h1>
<p>정산 기간: {{.Record.Period}} &nbsp;|&nbsp; 상담사: {{.Record.ConsultantName}}</p>
<table>
<tr><th>상담 회기</th><td>{{.Record.SessionCount}}회</td></tr>
<tr><th>회기당 단가</th><td>{{krw .Record.PerSessionRate}}</td></tr>
<tr><th>월 인센티브</th><td>{{krw .Record.Incentive}}</td></tr>
<tr><th>지급 총액</th><td>{{krw .Record.Gross}}</td></tr>
<tr><th>소득세</th><td>{{krw .Record.IncomeTax}}</td></tr>
<tr><th>지방소득세</th><td>{{krw .Record.LocalTax}}</td></tr>
<tr class="total"><th>실 지급액</th><td>{{krw .Record.Net}}</td></tr>
</table>
{{if ne .Record.BatchStatus "APPROVED"}}<p><strong>승인 전 가계산 명세입니다.</strong></p>{{end}}
<footer>발급일시 {{.IssuedAt}}</footer>
</body></html>`))

// StatementHTML renders the pay statement of rec.
func StatementHTML(rec Record, issuedAt time.Time) (string, error) {
	var buf bytes.Buffer
	err := statementTmpl.Execute(&buf, struct {
		Record   Record
		IssuedAt string
	}{Record: rec, IssuedAt: issuedAt.In(shared.Seoul).Format("2006-01-02 15:04")})
	if err != nil {
		return "", fmt.Errorf("render statement: %w", err)
	}
	return buf.String(), nil
}

// StatementFilename names the downloaded PDF.
func StatementFilename(rec Record) string {
	return fmt.Sprintf("salary-%s-%d.pdf", rec.Period, rec.ConsultantID)
}
