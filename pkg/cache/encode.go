package cache

const upperhex = "0123456789ABCDEF"

// encodeURIComponent percent-encodes every byte outside the unreserved set
// A-Z a-z 0-9 - _ . ! ~ * ' ( ).
func encodeURIComponent(s []byte) string {
	out := make([]byte, 0, len(s)*3/2)
	for _, b := range s {
		if unreserved(b) {
			out = append(out, b)
			continue
		}
		out = append(out, '%', upperhex[b>>4], upperhex[b&15])
	}
	return string(out)
}

func unreserved(b byte) bool {
	switch {
	case 'a' <= b && b <= 'z', 'A' <= b && b <= 'Z', '0' <= b && b <= '9':
		return true
	}
	switch b {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}
