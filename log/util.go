package log

import "fmt"

func sprint(args ...interface{}) string {
	return fmt.Sprint(args...)
}
