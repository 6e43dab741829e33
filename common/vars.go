package common

var (
	Version     = "dev" // is set during build process
	PackageName = "github.com/holisticode/exec-tracer"
)
