// Package parser turns raw document files into the ordered structural
// unit stream the chunker consumes.
package parser

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"

	"grounded-rag/internal/models"
)

const defaultPageNumber = 1

// ParseDocument reads a file and returns its typed structural units.
// Supported formats mirror the upload surface: pdf, docx, pptx, xlsx,
// ods, txt and md.
func ParseDocument(filePath string) ([]models.StructuralUnit, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".pdf":
		return parsePDF(filePath)
	case ".docx":
		return parseDOCX(filePath)
	case ".pptx":
		return parsePPTX(filePath)
	case ".xlsx":
		return parseXLSX(filePath)
	case ".ods":
		return parseODS(filePath)
	case ".txt", ".md", ".markdown":
		return parseText(filePath)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", ext)
	}
}

// MimeType maps a file extension to the stored document mime type.
func MimeType(filePath string) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".pptx":
		return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".ods":
		return "application/vnd.oasis.opendocument.spreadsheet"
	case ".md", ".markdown":
		return "text/markdown"
	default:
		return "text/plain"
	}
}

func parsePDF(filePath string) ([]models.StructuralUnit, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Get file size for reader initialization
	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, err
	}

	var units []models.StructuralUnit
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, err
		}
		pageUnits := markdownUnits(pageText, i)
		if len(pageUnits) == 0 {
			continue
		}
		if len(units) > 0 {
			units = append(units, models.StructuralUnit{Type: models.UnitPageBreak, Page: i})
		}
		units = append(units, pageUnits...)
	}
	return units, nil
}

func parseDOCX(filePath string) ([]models.StructuralUnit, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	doc := r.Editable()
	content := doc.GetContent()
	return markdownUnits(content, defaultPageNumber), nil
}

func parsePPTX(filePath string) ([]models.StructuralUnit, error) {
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var units []models.StructuralUnit
	for slideNum, file := range f.File {
		if !strings.HasPrefix(file.Name, "ppt/slides/slide") {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			continue
		}
		slideText := extractTextFromXML(string(data))
		if strings.TrimSpace(slideText) == "" {
			continue
		}
		page := slideNum + 1 // 1-based indexing
		if len(units) > 0 {
			units = append(units, models.StructuralUnit{Type: models.UnitPageBreak, Page: page})
		}
		units = append(units, models.StructuralUnit{
			Type: models.UnitParagraph,
			Text: strings.TrimSpace(slideText),
			Page: page,
		})
	}
	return units, nil
}

func parseXLSX(filePath string) ([]models.StructuralUnit, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return nil, err
	}

	var units []models.StructuralUnit
	for sheetNum, sheet := range f.Sheets {
		var rows [][]string
		for _, row := range sheet.Rows {
			var cells []string
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			if len(cells) > 0 {
				rows = append(rows, cells)
			}
		}
		if len(rows) == 0 {
			continue
		}
		page := sheetNum + 1 // 1-based indexing
		units = append(units,
			models.StructuralUnit{
				Type:  models.UnitHeading,
				Text:  "Sheet: " + sheet.Name,
				Level: 2,
				Page:  page,
			},
			models.StructuralUnit{Type: models.UnitTable, Rows: rows, Page: page},
		)
	}
	return units, nil
}

func parseODS(filePath string) ([]models.StructuralUnit, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var units []models.StructuralUnit
	for sheetNum, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			continue
		}
		var cleaned [][]string
		for _, row := range rows {
			if len(row) > 0 {
				cleaned = append(cleaned, row)
			}
		}
		if len(cleaned) == 0 {
			continue
		}
		page := sheetNum + 1 // 1-based indexing
		units = append(units,
			models.StructuralUnit{
				Type:  models.UnitHeading,
				Text:  "Sheet: " + sheetName,
				Level: 2,
				Page:  page,
			},
			models.StructuralUnit{Type: models.UnitTable, Rows: cleaned, Page: page},
		)
	}
	return units, nil
}

func parseText(filePath string) ([]models.StructuralUnit, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return markdownUnits(string(data), defaultPageNumber), nil
}

func extractTextFromXML(xmlContent string) string {
	var text strings.Builder
	parts := strings.Split(xmlContent, "<a:t>")
	for i, part := range parts {
		if i == 0 {
			continue
		}
		endIdx := strings.Index(part, "</a:t>")
		if endIdx >= 0 {
			text.WriteString(part[:endIdx] + " ")
		}
	}
	return text.String()
}
