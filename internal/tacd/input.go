package tacd

import (
	"bufio"
	"io"
	"strings"

	"github.com/letsencrypt/acmed/internal/acmeerrors"
)

// ReadMissingInputs implements spec §4.8/§6.2: domain and extension come
// from flags first; whatever is missing is read from stdin, domain before
// extension, each newline-terminated.
func ReadMissingInputs(stdin io.Reader, domain, extension string) (string, string, error) {
	if domain != "" && extension != "" {
		return domain, extension, nil
	}
	r := bufio.NewReader(stdin)
	if domain == "" {
		line, err := readLine(r)
		if err != nil {
			return "", "", acmeerrors.Wrap(acmeerrors.ConfigError, err, "read domain from stdin")
		}
		domain = line
	}
	if extension == "" {
		line, err := readLine(r)
		if err != nil {
			return "", "", acmeerrors.Wrap(acmeerrors.ConfigError, err, "read acme-ext from stdin")
		}
		extension = line
	}
	return domain, extension, nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
