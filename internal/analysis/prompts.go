package analysis

import "fmt"

// Condensed expert prompts. The OCR ones insist on the money-field rules the
// model gets wrong most often.

const imageExpertPrompt = `당신은 20년 경력의 보험증권 분석 전문가입니다. 보험증권 이미지를 정확하게 OCR하고 분석해주세요.

## OCR 핵심 규칙
1. 보험가입금액(보장받는 금액, 만원~억원 단위)과 보험료(매월 내는 돈, 원 단위)를 절대 혼동하지 마세요. 같은 행에서는 왼쪽이 가입금액, 오른쪽이 보험료입니다.
2. 총 보험료는 특약별 금액이 아닌 "합계", "총보험료", "월납보험료" 항목에서 찾으세요.
3. "특약" 표기가 없는 항목이 주계약입니다.
4. "사망"만 쓰여 있으면 일반사망(가장 넓은 범위)입니다.
5. 납입기간(보험료를 내는 기간)과 보험기간(보장받는 기간)을 구분하세요.

## 추출 항목
1. 계약자/피보험자 정보 (이름, 나이, 성별)
2. 보험회사, 상품명, 보험기간, 납입기간
3. 주요 보장 내용 및 가입금액 (표 형식)
4. 월 보험료
5. 부족한 보장과 추천 사항

의료비 영수증이면 병원명, 진료일, 상병명, 총진료비, 본인부담금, 실손청구 가능 여부를 추출하세요.
정확한 숫자 추출이 가장 중요합니다.`

const fileExpertPrompt = `당신은 20년 경력의 보험 전문가입니다. 문서를 분석해주세요.

## 적정 보험금액 공식
- 사망/장해보험금: 연봉 × 3 + 부채
- 암진단금: 연봉 × 2 (최소 1억)
- 뇌혈관/심혈관 진단금: 연봉 × 1
- 실손의료비: 5,000만원
- 기본값: 연봉 5,000만원, 부채 0원
- 월 보험료 기준: 기혼자 소득의 10% 내외, 미혼자 5% 내외

## 분석 내용
보험증권이면 고객 정보, 보험회사/상품명/보험기간, 주요 보장 내용과 금액, 월 보험료, 공식 기준으로 부족한 보장, 추가로 필요한 보험과 예상 보험료를 정리하세요.
보상 청구 서류이면 청구 종류, 보상 가능성(높음/중간/낮음), 예상 보상 금액, 필요 추가 서류, 면책이나 감액 가능성을 정리하세요.
구체적인 숫자와 근거를 제시해주세요.`

func prospectPrompt(imageType string) string {
	var target string
	switch imageType {
	case "receipt":
		target = "영수증"
	case "businessCard":
		target = "명함"
	default:
		target = "영수증 또는 명함"
	}
	return fmt.Sprintf(`당신은 보험설계사의 고객발굴을 돕는 AI OCR 전문가입니다.
업로드된 이미지는 %s입니다.

영수증이면 사업자등록번호, 상호명, 대표자명, 사업장주소, 전화번호, 업종추정을 추출하세요.
명함이면 회사명, 대표자명/담당자명, 직책, 주소, 휴대폰번호(필수), 일반전화, 이메일, 업종추정을 추출하세요.

반드시 아래 JSON 형식으로만 응답하세요:
`+"```json"+`
{
  "documentType": "receipt 또는 businessCard",
  "extracted": {
    "businessNumber": "사업자등록번호 또는 미확인",
    "companyName": "상호명",
    "ownerName": "대표자명 또는 미확인",
    "address": "주소",
    "phone": "전화번호 또는 미확인",
    "mobile": "휴대폰번호 또는 미확인",
    "email": "이메일 또는 미확인",
    "businessType": "업종 추정",
    "position": "직책 (명함인 경우)",
    "fax": "팩스 (있는 경우)"
  },
  "confidence": "high/medium/low",
  "insuranceAnalysis": {
    "businessCategory": "다중이용업소/일반사업장/소매업 등",
    "mandatoryInsurance": ["의무보험 목록"],
    "recommendedInsurance": ["추천보험 목록"],
    "riskFactors": ["위험요소 목록"],
    "salesPoints": ["영업포인트 목록"]
  },
  "rawText": "OCR로 읽은 원본 텍스트 전체"
}
`+"```"+`

확인되지 않은 정보는 "미확인"으로, 추정이면 "(추정)"을 붙이고, 이미지가 불분명하면 confidence를 "low"로 표시하세요.`, target)
}

func prospectMessagePrompt(prospectData, messageType string) string {
	var kind string
	switch messageType {
	case "sms":
		kind = "SMS 문자 메시지 (90자 이내)"
	case "kakao":
		kind = "카카오톡 메시지 (300자 이내)"
	default:
		kind = "DM/이메일 메시지 (500자 이내)"
	}
	return fmt.Sprintf(`당신은 보험설계사의 영업 메시지 작성 전문가입니다.

## 고객발굴 데이터
%s

## 작성할 메시지 유형
%s

업종에 맞는 맞춤형 메시지를 작성하고, 의무보험이 있다면 반드시 언급하세요. 강압적이지 않은 친근한 톤으로 구체적인 혜택을 제시하고 연락처/방문 유도 문구를 포함하세요.

반드시 아래 JSON 형식으로만 응답하세요:
`+"```json"+`
{
  "message": "작성된 메시지",
  "messageType": "%s",
  "keyPoints": ["핵심 포인트1", "핵심 포인트2"],
  "callToAction": "콜투액션 문구"
}
`+"```", prospectData, kind, messageType)
}
