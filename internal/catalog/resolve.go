package catalog

import (
	"fmt"
	"strings"
)

// formatter builds the download URL for accession under baseURL.
type formatter func(baseURL, accession string) string

// geoBucketLen is the length of the series prefix GEO uses to bucket
// directories, e.g. GSE12345 lives under GSE12nnn.
const geoBucketLen = 5

var templates = map[string]formatter{
	"genbank": func(base, acc string) string {
		return fmt.Sprintf("%s?db=nucleotide&id=%s&rettype=fasta&retmode=text", base, acc)
	},
	"uniprot": func(base, acc string) string {
		return fmt.Sprintf("%s/%s.fasta", base, acc)
	},
	"pdb": func(base, acc string) string {
		return fmt.Sprintf("%s/%s.pdb", base, acc)
	},
	"ena": func(base, acc string) string {
		return fmt.Sprintf("%s/%s", base, acc)
	},
	"sra": func(base, acc string) string {
		return fmt.Sprintf("%s?acc=%s", base, acc)
	},
	"geo": func(base, acc string) string {
		bucket := acc
		if len(bucket) > geoBucketLen {
			bucket = bucket[:geoBucketLen]
		}

		return fmt.Sprintf("%s/series/%snnn/%s/matrix/%s_series_matrix.txt.gz", base, bucket, acc, acc)
	},
}

// IsValid reports whether accession has an acceptable shape for p.
// Blank identifiers are never valid. With no configured prefixes any other
// identifier is accepted; otherwise it must start with one of them.
func IsValid(accession string, p Profile) bool {
	if strings.TrimSpace(accession) == "" {
		return false
	}

	if len(p.Prefixes) == 0 {
		return true
	}

	for _, prefix := range p.Prefixes {
		if strings.HasPrefix(accession, prefix) {
			return true
		}
	}

	return false
}

// Resolve returns the download URL and the local file extension for
// accession in repository p.
func (c *Catalog) Resolve(accession string, p Profile) (string, string, error) {
	f, ok := c.formatters[p.ID]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrNoMapping, p.ID)
	}

	return f(strings.TrimRight(p.BaseURL, "/"), accession), p.FileExtension, nil
}
