// SPDX-License-Identifier: GPL-3.0-or-later
package ews

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/CrawX/go-mailsync/domain"
	"github.com/CrawX/go-mailsync/throttle"
)

const (
	serverVersion = "Exchange2010_SP2"

	nsSoap     = "http://schemas.xmlsoap.org/soap/envelope/"
	nsTypes    = "http://schemas.microsoft.com/exchange/services/2006/types"
	nsMessages = "http://schemas.microsoft.com/exchange/services/2006/messages"
)

// Requests are marshalled with literal prefixes, responses are matched by
// local name only.
type envelope struct {
	XMLName struct{} `xml:"soap:Envelope"`
	Soap    string   `xml:"xmlns:soap,attr"`
	Types   string   `xml:"xmlns:t,attr"`
	Msgs    string   `xml:"xmlns:m,attr"`
	Header  struct {
		Version struct {
			Version string `xml:"Version,attr"`
		} `xml:"t:RequestServerVersion"`
	} `xml:"soap:Header"`
	Body struct {
		Request any
	} `xml:"soap:Body"`
}

func newEnvelope(request any) *envelope {
	e := &envelope{Soap: nsSoap, Types: nsTypes, Msgs: nsMessages}
	e.Header.Version.Version = serverVersion
	e.Body.Request = request
	return e
}

type fieldURI struct {
	FieldURI string `xml:"FieldURI,attr"`
}

type distinguishedFolderId struct {
	Id string `xml:"Id,attr"`
}

type folderId struct {
	Id string `xml:"Id,attr"`
}

type folderRef struct {
	Distinguished *distinguishedFolderId `xml:"t:DistinguishedFolderId"`
	Folder        *folderId              `xml:"t:FolderId"`
}

func refFor(id string, distinguished bool) folderRef {
	if distinguished {
		return folderRef{Distinguished: &distinguishedFolderId{Id: id}}
	}
	return folderRef{Folder: &folderId{Id: id}}
}

// additionalProperties is a pointer in folderShape so that no empty element
// is sent, the schema requires at least one path inside it.
type additionalProperties struct {
	FieldURI []fieldURI `xml:"t:FieldURI"`
}

type folderShape struct {
	BaseShape            string                `xml:"t:BaseShape"`
	AdditionalProperties *additionalProperties `xml:"t:AdditionalProperties,omitempty"`
}

type indexedPageView struct {
	MaxEntriesReturned int    `xml:"MaxEntriesReturned,attr"`
	Offset             int    `xml:"Offset,attr"`
	BasePoint          string `xml:"BasePoint,attr"`
}

type getFolderRequest struct {
	XMLName   struct{}    `xml:"m:GetFolder"`
	Shape     folderShape `xml:"m:FolderShape"`
	FolderIds folderRef   `xml:"m:FolderIds"`
}

type findFolderRequest struct {
	XMLName   struct{}        `xml:"m:FindFolder"`
	Traversal string          `xml:"Traversal,attr"`
	Shape     folderShape     `xml:"m:FolderShape"`
	View      indexedPageView `xml:"m:IndexedPageFolderView"`
	Parents   folderRef       `xml:"m:ParentFolderIds"`
}

type constant struct {
	Value string `xml:"Value,attr"`
}

type restriction struct {
	GreaterOrEqual struct {
		Field    fieldURI `xml:"t:FieldURI"`
		Constant constant `xml:"t:FieldURIOrConstant>t:Constant"`
	} `xml:"t:IsGreaterThanOrEqualTo"`
}

type fieldOrder struct {
	Order string   `xml:"Order,attr"`
	Field fieldURI `xml:"t:FieldURI"`
}

type findItemRequest struct {
	XMLName     struct{}        `xml:"m:FindItem"`
	Traversal   string          `xml:"Traversal,attr"`
	Shape       folderShape     `xml:"m:ItemShape"`
	View        indexedPageView `xml:"m:IndexedPageItemView"`
	Restriction *restriction    `xml:"m:Restriction"`
	SortOrder   fieldOrder      `xml:"m:SortOrder>t:FieldOrder"`
	Parents     folderRef       `xml:"m:ParentFolderIds"`
}

type itemId struct {
	Id string `xml:"Id,attr"`
}

type itemShape struct {
	BaseShape string `xml:"t:BaseShape"`
	BodyType  string `xml:"t:BodyType"`
}

type getItemRequest struct {
	XMLName struct{}  `xml:"m:GetItem"`
	Shape   itemShape `xml:"m:ItemShape"`
	ItemIds []itemId  `xml:"m:ItemIds>t:ItemId"`
}

func newGetItemRequest(ids []string) *getItemRequest {
	r := &getItemRequest{Shape: itemShape{BaseShape: "AllProperties", BodyType: "Best"}}
	for _, id := range ids {
		r.ItemIds = append(r.ItemIds, itemId{Id: id})
	}
	return r
}

type responseEnvelope struct {
	Body struct {
		Fault *soapFault `xml:"Fault"`
		Inner []byte     `xml:",innerxml"`
	} `xml:"Body"`
}

type soapFault struct {
	Code         string `xml:"faultcode"`
	Message      string `xml:"faultstring"`
	ResponseCode string `xml:"detail>ResponseCode"`
}

func (f *soapFault) Error() string {
	code := f.ResponseCode
	if code == "" {
		code = f.Code
	}
	return fmt.Sprintf("soap fault %s: %s", code, f.Message)
}

type responseMessage struct {
	ResponseClass string `xml:"ResponseClass,attr"`
	ResponseCode  string `xml:"ResponseCode"`
	MessageText   string `xml:"MessageText"`
}

// ResponseError is an error response message of an otherwise successful
// call.
type ResponseError struct {
	Code string
	Text string
}

func (e *ResponseError) Error() string {
	if e.Text == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Text)
}

func (r *responseMessage) err() error {
	if r.ResponseClass != "Error" {
		return nil
	}
	return &ResponseError{Code: r.ResponseCode, Text: r.MessageText}
}

func isResponseCode(err error, codes ...string) bool {
	var responseErr *ResponseError
	if !errors.As(err, &responseErr) {
		return false
	}
	for _, c := range codes {
		if responseErr.Code == c {
			return true
		}
	}
	return false
}

type idAttr struct {
	Id string `xml:"Id,attr"`
}

type folder struct {
	FolderId       idAttr `xml:"FolderId"`
	ParentFolderId idAttr `xml:"ParentFolderId"`
	FolderClass    string `xml:"FolderClass"`
	DisplayName    string `xml:"DisplayName"`
	TotalCount     uint32 `xml:"TotalCount"`
	UnreadCount    uint32 `xml:"UnreadCount"`
}

type rootFolder struct {
	IndexedPagingOffset     int  `xml:"IndexedPagingOffset,attr"`
	TotalItemsInView        int  `xml:"TotalItemsInView,attr"`
	IncludesLastItemInRange bool `xml:"IncludesLastItemInRange,attr"`
}

type getFolderResponse struct {
	Messages []struct {
		responseMessage
		Folders []folder `xml:"Folders>Folder"`
	} `xml:"ResponseMessages>GetFolderResponseMessage"`
}

type findFolderResponse struct {
	Messages []struct {
		responseMessage
		RootFolder struct {
			rootFolder
			Folders []folder `xml:"Folders>Folder"`
		} `xml:"RootFolder"`
	} `xml:"ResponseMessages>FindFolderResponseMessage"`
}

type findItemResponse struct {
	Messages []struct {
		responseMessage
		RootFolder struct {
			rootFolder
			Items struct {
				Items []struct {
					ItemId idAttr `xml:"ItemId"`
				} `xml:",any"`
			} `xml:"Items"`
		} `xml:"RootFolder"`
	} `xml:"ResponseMessages>FindItemResponseMessage"`
}

type mailbox struct {
	Name         string `xml:"Name"`
	EmailAddress string `xml:"EmailAddress"`
}

type fileAttachment struct {
	AttachmentId idAttr `xml:"AttachmentId"`
	Name         string `xml:"Name"`
	ContentType  string `xml:"ContentType"`
	ContentId    string `xml:"ContentId"`
	Size         int64  `xml:"Size"`
}

type item struct {
	ItemId           idAttr `xml:"ItemId"`
	ConversationId   idAttr `xml:"ConversationId"`
	Subject          string `xml:"Subject"`
	Body             struct {
		BodyType string `xml:"BodyType,attr"`
		Text     string `xml:",chardata"`
	} `xml:"Body"`
	DateTimeReceived  time.Time        `xml:"DateTimeReceived"`
	DateTimeSent      time.Time        `xml:"DateTimeSent"`
	Categories        []string         `xml:"Categories>String"`
	IsRead            bool             `xml:"IsRead"`
	InternetMessageId string           `xml:"InternetMessageId"`
	From              mailbox          `xml:"From>Mailbox"`
	ToRecipients      []mailbox        `xml:"ToRecipients>Mailbox"`
	CcRecipients      []mailbox        `xml:"CcRecipients>Mailbox"`
	BccRecipients     []mailbox        `xml:"BccRecipients>Mailbox"`
	Attachments       []fileAttachment `xml:"Attachments>FileAttachment"`
}

type getItemResponse struct {
	Messages []struct {
		responseMessage
		Items struct {
			Items []item `xml:",any"`
		} `xml:"Items"`
	} `xml:"ResponseMessages>GetItemResponseMessage"`
}

// call posts one SOAP request. 401 is reported as AuthError, SOAP faults and
// unexpected statuses as plain errors. Throttled requests are retried.
func (h *EwsHandler) call(ctx context.Context, session *session, op string, request, response any) error {
	payload, err := xml.Marshal(newEnvelope(request))
	if err != nil {
		return fmt.Errorf("could not encode %s: %w", op, err)
	}
	payload = append([]byte(xml.Header), payload...)

	resp, err := h.retrier.Do(ctx, op, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, session.endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "text/xml; charset=utf-8")
		req.SetBasicAuth(session.credentials.Username, session.credentials.Password)
		return h.client.Do(req)
	})
	if err != nil {
		return err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return &domain.AuthError{Protocol: domain.ProtocolExchange, Err: errors.New(resp.Status)}
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusInternalServerError:
		return throttle.ReadError(resp)
	}
	defer resp.Body.Close()

	env := &responseEnvelope{}
	if err := xml.NewDecoder(resp.Body).Decode(env); err != nil {
		return fmt.Errorf("could not decode %s envelope: %w", op, err)
	}
	if env.Body.Fault != nil {
		return env.Body.Fault
	}
	if err := xml.Unmarshal(env.Body.Inner, response); err != nil {
		return fmt.Errorf("could not decode %s response: %w", op, err)
	}

	return nil
}

// serverBusy reports the ErrorServerBusy fault EWS uses for throttling. The
// body is restored for the caller.
func serverBusy(resp *http.Response) bool {
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		return true
	}
	if resp.StatusCode != http.StatusInternalServerError {
		return false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))

	return err == nil && strings.Contains(string(body), "ErrorServerBusy")
}
