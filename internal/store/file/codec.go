package file

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"sinas/internal/models"
)

// Line formats, colon-delimited:
//
//	user file:          username:password
//	conversation line 1: id:participant1:participant2[:...]
//	message lines:       content:timestamp:sender:isFile
//
// The password and message content may themselves contain the delimiter,
// so decoding always splits the fixed fields off the other end of the
// line. Usernames, conversation ids and senders are kept delimiter-free
// by validKey. Newlines and carriage returns inside free-text fields are
// backslash-escaped so a record never spans lines.

var errMalformedLine = errors.New("malformed line")

var (
	fieldEscaper   = strings.NewReplacer(`\`, `\\`, "\n", `\n`, "\r", `\r`)
	fieldUnescaper = strings.NewReplacer(`\\`, `\`, `\n`, "\n", `\r`, "\r")
)

func encodeUser(u models.User) string {
	return u.Username + ":" + fieldEscaper.Replace(u.Password)
}

func decodeUser(line string) (username, password string, err error) {
	username, password, ok := strings.Cut(line, ":")
	if !ok || username == "" {
		return "", "", errMalformedLine
	}
	return username, fieldUnescaper.Replace(password), nil
}

func encodeHeader(id string, users []string) string {
	return strings.Join(append([]string{id}, users...), ":")
}

func decodeHeader(line string) (id string, users []string, err error) {
	parts := strings.Split(line, ":")
	if parts[0] == "" {
		return "", nil, errMalformedLine
	}
	if len(parts) > 1 {
		users = parts[1:]
	}
	return parts[0], users, nil
}

func encodeMessage(m models.Message) string {
	return fmt.Sprintf("%s:%d:%s:%t", fieldEscaper.Replace(m.Content), m.Timestamp, m.Sender, m.IsFile)
}

func decodeMessage(line string) (models.Message, error) {
	parts := strings.Split(line, ":")
	if len(parts) < 4 {
		return models.Message{}, errMalformedLine
	}

	isFile, err := strconv.ParseBool(parts[len(parts)-1])
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: bad is-file flag", errMalformedLine)
	}
	sender := parts[len(parts)-2]
	timestamp, err := strconv.ParseInt(parts[len(parts)-3], 10, 64)
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: bad timestamp", errMalformedLine)
	}

	return models.Message{
		Content:   fieldUnescaper.Replace(strings.Join(parts[:len(parts)-3], ":")),
		Timestamp: timestamp,
		Sender:    sender,
		IsFile:    isFile,
	}, nil
}

// readLine reads the first line of the file at path.
func readLine(path string) (string, error) {
	lines, err := readLines(path)
	if err != nil {
		return "", err
	}
	return lines[0], nil
}

// readLines reads the file at path into its non-empty line records. An
// entity file always has at least one line; an empty file is corrupt.
func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: empty entity file", errMalformedLine)
	}
	return lines, nil
}
