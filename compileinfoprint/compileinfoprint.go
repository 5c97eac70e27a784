// compileinfoprint is imported for the side effect of logging the build
// information when a binary starts.
package compileinfoprint

import "github.com/carbocation/chipcollections/compileinfo"

func init() {
	compileinfo.Log()
}
