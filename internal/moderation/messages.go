package moderation

import "strings"

// messageTemplates is the user-facing catalog, one template per reason code.
var messageTemplates = map[Reason]string{
	ReasonLowQuality:            "Image resolution is too low ({width}x{height}). Please upload an image of at least {min_width}x{min_height} pixels.",
	ReasonAPIError:              "We could not analyse this image right now. It has been queued and will be checked again shortly.",
	ReasonOCRContent:            "Images containing contact details or documents are not allowed ({issues}). Please upload a photo of the property.",
	ReasonHighText:              "Images with a lot of text are not allowed. Please upload a photo of the property.",
	ReasonHumanDetected:         "Images showing people are not allowed. Please upload a photo of the property without people in it.",
	ReasonAnimalDetected:        "Images showing animals are not allowed ({animal_name} detected). Please upload a photo of the property.",
	ReasonAdultContent:          "This image contains adult content and cannot be used.",
	ReasonViolenceContent:       "This image contains violent content and cannot be used.",
	ReasonRacyContent:           "This image contains suggestive content and cannot be used.",
	ReasonNotProperty:           "This image does not clearly show a property. It has been sent to our team for review.",
	ReasonSafeSearchUnavailable: "We could not verify that this image is safe. It has been sent to our team for review.",
	ReasonApproved:              "Image approved.",
}

// Message renders the template for reason, substituting {name} tokens from
// vars. Unknown tokens are left as-is.
func Message(reason Reason, vars map[string]string) string {
	tmpl, ok := messageTemplates[reason]
	if !ok {
		return string(reason)
	}
	if len(vars) == 0 {
		return tmpl
	}
	pairs := make([]string, 0, len(vars)*2)
	for key, value := range vars {
		pairs = append(pairs, "{"+key+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
