package loader

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/bancoinsights/bacen-etl/internal/normalize"
)

// ErrMissingColumn is returned when an extract lacks a required header.
var ErrMissingColumn = eris.New("loader: required column missing")

type field int

const (
	fieldType field = iota
	fieldCode
	fieldName
	fieldPeriod
	fieldReportNumber
	fieldReportName
	fieldGroup
	fieldColumn
	fieldDescription
	fieldValue
	numFields
)

// headerAliases lists, per field, the normalized header names BACEN has used
// across extract vintages.
var headerAliases = [numFields][]string{
	fieldType:         {"tipoinstituicao", "tipo"},
	fieldCode:         {"codinst", "codigoinstituicao", "codigo", "cnpj"},
	fieldName:         {"nomeinstituicao", "instituicao", "nome"},
	fieldPeriod:       {"anomesq", "anomes", "periodo", "data", "database"},
	fieldReportNumber: {"numerorelatorio", "relatorio"},
	fieldReportName:   {"nomerelatorio"},
	fieldGroup:        {"grupo"},
	fieldColumn:       {"nomecoluna", "coluna"},
	fieldDescription:  {"descricaocoluna", "descricao"},
	fieldValue:        {"saldo", "valor"},
}

var fieldNames = [numFields]string{
	"TipoInstituicao", "CodInst", "NomeInstituicao", "AnoMes_Q", "NumeroRelatorio",
	"NomeRelatorio", "Grupo", "NomeColuna", "DescricaoColuna", "Saldo",
}

// columnMap resolves header positions for each known field; -1 when absent.
type columnMap [numFields]int

// normalizeCol folds accents and drops everything but letters and digits so
// "AnoMes_Q", "anomes q" and "AnoMesQ" compare equal.
func normalizeCol(s string) string {
	return strings.ReplaceAll(normalize.Slug(s), "_", "")
}

func mapColumns(header []string) (columnMap, error) {
	idx := make(map[string]int, len(header))
	for i, col := range header {
		n := normalizeCol(col)
		if _, dup := idx[n]; !dup {
			idx[n] = i
		}
	}

	var cm columnMap
	for f := range numFields {
		cm[f] = -1
		for _, alias := range headerAliases[f] {
			if i, ok := idx[alias]; ok {
				cm[f] = i
				break
			}
		}
	}

	for _, f := range []field{fieldCode, fieldPeriod, fieldColumn, fieldValue} {
		if cm[f] < 0 {
			return cm, eris.Wrapf(ErrMissingColumn, "%s (header %v)", fieldNames[f], header)
		}
	}
	if cm[fieldReportName] < 0 && cm[fieldReportNumber] < 0 {
		return cm, eris.Wrapf(ErrMissingColumn, "%s or %s", fieldNames[fieldReportName], fieldNames[fieldReportNumber])
	}
	return cm, nil
}

func (cm columnMap) get(record []string, f field) string {
	i := cm[f]
	if i < 0 || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}
