package main

import (
	. "github.com/saylorsolutions/modmake"
)

const (
	qmcdecodeVersion = "0.1.0"
)

func main() {
	b := NewBuild()
	b.Generate().DependsOnRunner("tidy", "", Go().ModTidy())

	qmcdecode := NewAppBuild("qmcdecode", "cmd/qmcdecode", qmcdecodeVersion)
	qmcdecode.Build(func(gb *GoBuild) {
		gb.
			StripDebugSymbols().
			SetVariable("main", "version", qmcdecodeVersion).
			CgoEnabled(false)
	})
	qmcdecode.Variant("windows", "amd64")
	qmcdecode.Variant("linux", "amd64")
	qmcdecode.Variant("linux", "arm64")
	qmcdecode.Variant("darwin", "amd64")
	qmcdecode.Variant("darwin", "arm64")
	b.ImportApp(qmcdecode)

	b.Execute()
}
