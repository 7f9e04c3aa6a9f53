package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/owantlab/arkgenie/internal/callstore"
	"github.com/owantlab/arkgenie/internal/customers"
	"github.com/owantlab/arkgenie/internal/rag"
	"github.com/owantlab/arkgenie/internal/telephony"
)

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ARK-Genie relay running",
		"rag": map[string]any{
			"enabled": s.kb.Enabled(),
		},
		"googleSheets": map[string]any{
			"enabled": s.sheets != nil,
		},
		"telephony": map[string]any{
			"enabled": s.calls != nil,
		},
		"endpoints": map[string]any{
			"call":     []string{"/api/call", "/api/call-status/{callSid}", "/incoming-call", "/media-stream"},
			"app":      []string{"/app-stream", "/api/chat", "/api/analyze-image", "/api/analyze-file", "/api/rag-search"},
			"prospect": []string{"/api/analyze-prospect", "/api/generate-prospect-message"},
			"sheets":   []string{"/api/sheets/status", "/api/sheets/customers", "/api/sheets/download"},
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PhoneNumber  string `json:"phoneNumber"`
		CustomerName string `json:"customerName"`
		Purpose      string `json:"purpose"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondFailure(w, "잘못된 요청입니다.")
		return
	}
	if req.PhoneNumber == "" {
		respondFailure(w, "전화번호가 없습니다.")
		return
	}
	if req.Purpose == "" {
		req.Purpose = "상담예약"
	}

	callSid, err := s.calls.StartCall(r.Context(), req.PhoneNumber, req.CustomerName, req.Purpose)
	if err != nil {
		s.logger.Error("outbound call failed", zap.Error(err))
		respondFailure(w, err.Error())
		return
	}

	if err := s.callStore.PutStatus(r.Context(), callSid, callstore.CallStatus{
		Status:       "initiated",
		PhoneNumber:  req.PhoneNumber,
		CustomerName: req.CustomerName,
		UpdatedAt:    time.Now().UTC(),
	}); err != nil {
		s.logger.Warn("store call status failed", zap.Error(err))
	}
	if err := s.callStore.PutContext(r.Context(), callSid, callstore.CallContext{
		CustomerName: req.CustomerName,
		Purpose:      req.Purpose,
		CreatedAt:    time.Now().UTC(),
	}); err != nil {
		s.logger.Warn("store call context failed", zap.Error(err))
	}

	respondJSON(w, http.StatusOK, map[string]any{"success": true, "callSid": callSid})
}

func (s *Server) handleCallStatus(w http.ResponseWriter, r *http.Request) {
	callSid := chi.URLParam(r, "callSid")
	status, err := s.callStore.GetStatus(r.Context(), callSid)
	if errors.Is(err, callstore.ErrNotFound) {
		respondJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"status":  map[string]any{"status": "unknown"},
		})
		return
	}
	if err != nil {
		respondFailure(w, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "status": status})
}

// handleCallStatusCallback receives Twilio's form-encoded lifecycle posts.
func (s *Server) handleCallStatusCallback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	callSid := r.FormValue("CallSid")
	callStatus := r.FormValue("CallStatus")
	if callSid != "" && callStatus != "" {
		if err := s.callStore.UpdateStatus(r.Context(), callSid, callStatus); err != nil && !errors.Is(err, callstore.ErrNotFound) {
			s.logger.Warn("status callback update failed",
				zap.String("call_sid", callSid), zap.Error(err))
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleIncomingCall(w http.ResponseWriter, r *http.Request) {
	purpose := r.URL.Query().Get("purpose")
	customerName := r.URL.Query().Get("customerName")
	if purpose == "" {
		purpose = "상담예약"
	}

	doc, err := telephony.ConnectTwiML(s.cfg.ServerDomain, purpose, customerName)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(doc))
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
		Context []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"context"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Message == "" {
		respondFailure(w, "메시지가 없습니다.")
		return
	}

	history := make([]openai.ChatCompletionMessage, 0, len(req.Context))
	for _, m := range req.Context {
		history = append(history, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	reply, err := s.analyzer.Chat(r.Context(), s.prompts.Chat(req.Message, nil), history, req.Message)
	if err != nil {
		s.logger.Error("chat failed", zap.Error(err))
		respondFailure(w, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "response": reply})
}

func (s *Server) handleRAGSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Query == "" {
		respondFailure(w, "검색어가 없습니다.")
		return
	}

	results := s.kb.Search(req.Query, 5)
	previews := make([]map[string]any, 0, len(results))
	for _, res := range results {
		preview := res.Content
		if runes := []rune(preview); len(runes) > 200 {
			preview = string(runes[:200]) + "..."
		}
		previews = append(previews, map[string]any{
			"book":    res.Book,
			"score":   res.Score,
			"preview": preview,
		})
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"query":   req.Query,
		"results": previews,
		"context": rag.FormatContext(results),
	})
}

func (s *Server) handleAnalyzeImage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Image  string `json:"image"`
		Prompt string `json:"prompt"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Image == "" {
		respondFailure(w, "이미지가 없습니다.")
		return
	}

	result, err := s.analyzer.AnalyzeImage(r.Context(), req.Image, req.Prompt)
	if err != nil {
		s.logger.Error("image analysis failed", zap.Error(err))
		respondFailure(w, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "analysis": result})
}

func (s *Server) handleAnalyzeFile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		File     string `json:"file"`
		FileName string `json:"fileName"`
		FileType string `json:"fileType"`
		Prompt   string `json:"prompt"`
	}
	if err := decodeJSON(r, &req); err != nil || req.File == "" {
		respondFailure(w, "파일이 없습니다.")
		return
	}

	result, textLen, err := s.analyzer.AnalyzeFile(r.Context(), req.File, req.FileName, req.FileType, req.Prompt)
	if err != nil {
		s.logger.Error("file analysis failed", zap.Error(err))
		respondFailure(w, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"analysis":   result,
		"fileName":   req.FileName,
		"textLength": textLen,
	})
}

func (s *Server) handleAnalyzeProspect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Image     string `json:"image"`
		ImageType string `json:"imageType"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Image == "" {
		respondFailure(w, "이미지가 없습니다.")
		return
	}

	data, raw, err := s.analyzer.AnalyzeProspect(r.Context(), req.Image, req.ImageType)
	if err != nil {
		s.logger.Error("prospect analysis failed", zap.Error(err))
		respondFailure(w, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "data": data, "raw": raw})
}

func (s *Server) handleProspectMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProspectData json.RawMessage `json:"prospectData"`
		MessageType  string          `json:"messageType"`
	}
	if err := decodeJSON(r, &req); err != nil || len(req.ProspectData) == 0 {
		respondFailure(w, "고객발굴 데이터가 없습니다.")
		return
	}

	data, raw, err := s.analyzer.ProspectMessage(r.Context(), req.ProspectData, req.MessageType)
	if err != nil {
		s.logger.Error("prospect message failed", zap.Error(err))
		respondFailure(w, err.Error())
		return
	}
	if data == nil {
		respondJSON(w, http.StatusOK, map[string]any{"success": true, "message": raw})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "data": data})
}

func (s *Server) handleSheetsStatus(w http.ResponseWriter, r *http.Request) {
	if s.sheets == nil {
		respondFailure(w, "구글시트 연동이 설정되지 않았습니다.")
		return
	}
	title, tabs, err := s.sheets.Status(r.Context())
	if err != nil {
		respondFailure(w, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"title":   title,
		"sheets":  tabs,
	})
}

func (s *Server) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	list, err := s.customers.List(r.Context())
	if err != nil {
		respondFailure(w, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"customers": list,
		"total":     len(list),
		"lastSync":  time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleAddCustomer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Phone    string `json:"phone"`
		Email    string `json:"email"`
		Company  string `json:"company"`
		Position string `json:"position"`
		Memo     string `json:"memo"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondFailure(w, "잘못된 요청입니다.")
		return
	}

	added, err := s.customers.Add(r.Context(), customers.Customer{
		Name:     req.Name,
		Phone:    req.Phone,
		Email:    req.Email,
		Company:  req.Company,
		Position: req.Position,
		Memo:     req.Memo,
	})
	if errors.Is(err, customers.ErrInvalid) {
		respondFailure(w, "이름과 전화번호는 필수입니다.")
		return
	}
	if err != nil {
		respondFailure(w, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "customer": added})
}

func (s *Server) handleUpdateCustomer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string  `json:"name"`
		Phone    string  `json:"phone"`
		Email    *string `json:"email"`
		Company  *string `json:"company"`
		Position *string `json:"position"`
		Memo     *string `json:"memo"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondFailure(w, "잘못된 요청입니다.")
		return
	}

	updated, err := s.customers.Update(r.Context(), chi.URLParam(r, "id"), customers.Patch{
		Name:     req.Name,
		Phone:    req.Phone,
		Email:    req.Email,
		Company:  req.Company,
		Position: req.Position,
		Memo:     req.Memo,
	})
	if errors.Is(err, customers.ErrNotFound) {
		respondFailure(w, "해당 고객을 찾을 수 없습니다.")
		return
	}
	if err != nil {
		respondFailure(w, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "customer": updated})
}

func (s *Server) handleDeleteCustomer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.customers.Delete(r.Context(), id)
	if errors.Is(err, customers.ErrNotFound) {
		respondFailure(w, "해당 고객을 찾을 수 없습니다.")
		return
	}
	if err != nil {
		respondFailure(w, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "deletedId": id})
}

func (s *Server) handleDownloadCustomers(w http.ResponseWriter, r *http.Request) {
	list, err := s.customers.List(r.Context())
	if err != nil {
		respondFailure(w, err.Error())
		return
	}
	data, err := customers.ExportCSV(list)
	if err != nil {
		respondFailure(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=arkgenie_customers.csv")
	_, _ = w.Write(data)
}
