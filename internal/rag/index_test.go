package rag

import (
	"strings"
	"testing"
)

func testIndex() *Index {
	return New([]Chunk{
		{Book: "보험 약관 해설", Content: "실손보험은 실제 부담한 의료비를 보장하는 보험입니다. 실손보험 청구는 진료비 영수증이 필요합니다."},
		{Book: "자동차보험 가이드", Content: "자동차보험은 의무보험과 임의보험으로 나뉩니다."},
		{Book: "연금 설계", Content: "연금보험은 노후 대비 상품입니다."},
	})
}

func TestSearchScoring(t *testing.T) {
	ix := testIndex()

	results := ix.Search("실손보험 청구 방법", 3)
	if len(results) == 0 {
		t.Fatalf("Search() returned no results")
	}
	if results[0].Book != "보험 약관 해설" {
		t.Fatalf("top result book = %q, want 보험 약관 해설", results[0].Book)
	}
	// 실손보험 appears twice in content (2*2) plus 청구 once (2).
	if results[0].Score < 6 {
		t.Fatalf("top score = %d, want >= 6", results[0].Score)
	}
}

func TestSearchBookBonus(t *testing.T) {
	ix := testIndex()

	results := ix.Search("자동차보험", 3)
	if len(results) == 0 || results[0].Book != "자동차보험 가이드" {
		t.Fatalf("results = %+v, want 자동차보험 가이드 first", results)
	}
	// One content hit (2) plus the book-title bonus (5).
	if results[0].Score != 7 {
		t.Fatalf("score = %d, want 7", results[0].Score)
	}
}

func TestSearchNoMatch(t *testing.T) {
	ix := testIndex()
	if results := ix.Search("양자역학", 3); len(results) != 0 {
		t.Fatalf("Search(unrelated) = %v, want empty", results)
	}
	if results := ix.Search("a ! ?", 3); len(results) != 0 {
		t.Fatalf("Search(short tokens) = %v, want empty", results)
	}
}

func TestSearchTopK(t *testing.T) {
	ix := testIndex()
	if results := ix.Search("보험", 1); len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
}

func TestDisabledIndex(t *testing.T) {
	var ix *Index
	if ix.Enabled() {
		t.Fatalf("nil index reports enabled")
	}
	empty := New(nil)
	if empty.Enabled() {
		t.Fatalf("empty index reports enabled")
	}
	if results := empty.Search("보험", 3); results != nil {
		t.Fatalf("Search on empty index = %v, want nil", results)
	}
}

func TestFormatContext(t *testing.T) {
	ix := testIndex()
	out := FormatContext(ix.Search("자동차보험", 1))

	if !strings.Contains(out, "[참고자료 1]") {
		t.Fatalf("formatted context missing numbering: %q", out)
	}
	if !strings.Contains(out, "출처: 자동차보험 가이드") {
		t.Fatalf("formatted context missing source: %q", out)
	}
	if FormatContext(nil) != "" {
		t.Fatalf("FormatContext(nil) should be empty")
	}
}
