package dto

// Envelope is the JSON shape every endpoint answers with.
type Envelope struct {
	Code int         `json:"code"`
	Msg  string      `json:"msg"`
	Data interface{} `json:"data,omitempty"`
}

type UploadData struct {
	TaskID     string  `json:"taskId"`
	Model      string  `json:"model"`
	Confidence float64 `json:"confidence"`
}

type ResultData struct {
	TaskID      string      `json:"taskId"`
	Results     interface{} `json:"results"`
	ResultImage string      `json:"resultImage"`
}

type RecordResponse struct {
	TaskID     string      `json:"taskId"`
	FileName   string      `json:"fileName"`
	UploadTime string      `json:"uploadTime"`
	Width      int         `json:"width"`
	Height     int         `json:"height"`
	FileType   string      `json:"fileType"`
	URL        string      `json:"url"`
	Detections interface{} `json:"detections"`
	Status     string      `json:"status"`
	Error      string      `json:"error,omitempty"`
}
