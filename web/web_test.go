package web

import (
	"html/template"
	"io/fs"
	"strings"
	"testing"
)

func TestDistContainsPlayerPage(t *testing.T) {
	for _, name := range []string{"dist/index.html", "dist/assets/app.js", "dist/assets/app.css"} {
		if _, err := fs.Stat(DistFS, name); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
	if _, err := template.ParseFS(DistFS, "dist/index.html"); err != nil {
		t.Errorf("index.html is not a valid template: %v", err)
	}
}

func TestUploadFailureBlocksWithAlert(t *testing.T) {
	data, err := fs.ReadFile(DistFS, "dist/assets/app.js")
	if err != nil {
		t.Fatal(err)
	}
	js := string(data)

	start := strings.Index(js, "function upload(")
	if start < 0 {
		t.Fatal("app.js has no upload function")
	}
	body := js[start:]
	catchAt := strings.Index(body, ".catch(")
	if catchAt < 0 {
		t.Fatal("upload has no failure handler")
	}
	if !strings.Contains(body[catchAt:], "window.alert(") {
		t.Error("upload failures should be reported with a blocking alert")
	}
}
