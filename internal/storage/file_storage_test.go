// internal/storage/file_storage_test.go
package storage

import (
	"path/filepath"
	"reflect"
	"sync"
	"testing"
)

func newTestStorage(t *testing.T) *FileStorage {
	t.Helper()

	fs, err := NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStorage: %v", err)
	}
	return fs
}

// TestSaveAndLoadJSON 保存后读回JSON
func TestSaveAndLoadJSON(t *testing.T) {
	fs := newTestStorage(t)

	type record struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	saved := record{Name: "demo", Count: 3}
	if err := fs.SaveJSONFile("drafts/user_1", "a.json", saved); err != nil {
		t.Fatalf("SaveJSONFile: %v", err)
	}

	var loaded record
	if err := fs.LoadJSONFile("drafts/user_1", "a.json", &loaded); err != nil {
		t.Fatalf("LoadJSONFile: %v", err)
	}
	if loaded != saved {
		t.Errorf("读回数据 = %+v, want %+v", loaded, saved)
	}
}

// TestSave_NoTempFileLeftBehind 原子写入后不留临时文件
func TestSave_NoTempFileLeftBehind(t *testing.T) {
	fs := newTestStorage(t)

	if err := fs.SaveTextFile("docs", "a.txt", []byte("hello")); err != nil {
		t.Fatalf("SaveTextFile: %v", err)
	}

	if fs.FileExists("docs", "a.txt.tmp") {
		t.Error("写入完成后不应残留临时文件")
	}
	if !fs.FileExists("docs", "a.txt") {
		t.Error("目标文件应已存在")
	}
}

// TestSave_InvalidatesCache 写入后读到的是新内容而不是缓存
func TestSave_InvalidatesCache(t *testing.T) {
	fs := newTestStorage(t)

	fs.SaveTextFile("docs", "a.txt", []byte("v1"))
	if _, err := fs.LoadTextFile("docs", "a.txt"); err != nil {
		t.Fatalf("LoadTextFile: %v", err)
	}

	fs.SaveTextFile("docs", "a.txt", []byte("v2"))
	content, err := fs.LoadTextFile("docs", "a.txt")
	if err != nil {
		t.Fatalf("LoadTextFile: %v", err)
	}
	if string(content) != "v2" {
		t.Errorf("读到过期缓存: %q", content)
	}
}

// TestListFiles 后缀过滤与排序，目录不存在返回空列表
func TestListFiles(t *testing.T) {
	fs := newTestStorage(t)

	fs.SaveTextFile("docs", "b.json", []byte("{}"))
	fs.SaveTextFile("docs", "a.json", []byte("{}"))
	fs.SaveTextFile("docs", "note.txt", []byte("x"))

	files, err := fs.ListFiles("docs", ".json")
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if !reflect.DeepEqual(files, []string{"a.json", "b.json"}) {
		t.Errorf("files = %v", files)
	}

	empty, err := fs.ListFiles(filepath.Join("missing", "dir"), ".json")
	if err != nil {
		t.Fatalf("不存在的目录不应报错: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("不存在的目录应返回空列表: %v", empty)
	}
}

// TestConcurrentWrites 并发写同一文件不损坏内容
func TestConcurrentWrites(t *testing.T) {
	fs := newTestStorage(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fs.SaveTextFile("docs", "a.txt", []byte("payload"))
		}()
	}
	wg.Wait()

	content, err := fs.LoadTextFile("docs", "a.txt")
	if err != nil {
		t.Fatalf("LoadTextFile: %v", err)
	}
	if string(content) != "payload" {
		t.Errorf("并发写后内容损坏: %q", content)
	}
}
