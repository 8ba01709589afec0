package render

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html/template"
	"net/http"
	"os"

	"github.com/JakeFAU/bid-monitor/internal/bid"
)

// Detail is one labeled line printed on the card.
type Detail struct {
	Label string
	Value string
}

// Card is the data bound to the card template.
type Card struct {
	Width    int
	Height   int
	Title    string
	Name     string
	Photo    template.URL
	Details  []Detail
	Footnote string
}

// detailFields lists the pass-through attributes printed on the card, in order.
var detailFields = []Detail{
	{Label: "Apelido", Value: "apelido"},
	{Label: "Clube", Value: "clube"},
	{Label: "UF", Value: "uf"},
	{Label: "Tipo de contrato", Value: "tipo_contrato"},
	{Label: "Data de início", Value: "data_inicio"},
	{Label: "Data de término", Value: "data_termino"},
}

var cardTemplate = template.Must(template.New("card").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
  html, body { margin: 0; padding: 0; }
  body { width: {{.Width}}px; height: {{.Height}}px; background: #0b3d2e; color: #fff;
         font-family: "Helvetica Neue", Arial, sans-serif; display: flex; flex-direction: column;
         align-items: center; justify-content: center; box-sizing: border-box; padding: 48px; }
  h1 { font-size: 40px; letter-spacing: 4px; margin: 0 0 32px; color: #f5c518; }
  .photo { width: 360px; height: 360px; border-radius: 50%; object-fit: cover; border: 8px solid #f5c518; }
  .placeholder { width: 360px; height: 360px; border-radius: 50%; background: #145c45; border: 8px solid #f5c518; }
  h2 { font-size: 56px; margin: 32px 0 24px; text-align: center; }
  table { font-size: 30px; border-collapse: collapse; }
  td { padding: 6px 16px; }
  td.label { color: #b7d7c9; text-align: right; }
  footer { margin-top: 32px; font-size: 24px; color: #b7d7c9; }
</style>
</head>
<body>
  <h1>{{.Title}}</h1>
  {{if .Photo}}<img class="photo" src="{{.Photo}}">{{else}}<div class="placeholder"></div>{{end}}
  <h2>{{.Name}}</h2>
  <table>
  {{range .Details}}<tr><td class="label">{{.Label}}</td><td>{{.Value}}</td></tr>
  {{end}}</table>
  <footer>{{.Footnote}}</footer>
</body>
</html>
`))

// NewCard maps a record onto the card layout. An unreadable photo is
// rendered as a placeholder.
func NewCard(record bid.Record, mediaPath string, width, height int) Card {
	card := Card{
		Width:    width,
		Height:   height,
		Title:    "NOVO CONTRATO NO BID",
		Name:     record.DisplayName(),
		Footnote: "Publicado em " + record.PublicationDate,
	}
	if mediaPath != "" {
		if data, err := os.ReadFile(mediaPath); err == nil && len(data) > 0 {
			card.Photo = dataURI(data)
		}
	}
	for _, f := range detailFields {
		if v := record.Attribute(f.Value); v != "" {
			card.Details = append(card.Details, Detail{Label: f.Label, Value: v})
		}
	}
	if record.ContractNumber != "" {
		card.Details = append(card.Details, Detail{Label: "Contrato", Value: record.ContractNumber})
	}
	return card
}

// HTML executes the card template.
func (c Card) HTML() ([]byte, error) {
	var buf bytes.Buffer
	if err := cardTemplate.Execute(&buf, c); err != nil {
		return nil, fmt.Errorf("execute card template: %w", err)
	}
	return buf.Bytes(), nil
}

func dataURI(data []byte) template.URL {
	//nolint:gosec // content is an image we downloaded and base64 encoded
	return template.URL("data:" + http.DetectContentType(data) + ";base64," + base64.StdEncoding.EncodeToString(data))
}
